package registry

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// MongoRegistry stores trips and location history in MongoDB. A unique index
// on order_id makes CreateTrip first-wins under concurrent acceptance.
type MongoRegistry struct {
	trips   *mongo.Collection
	history *mongo.Collection
}

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx2, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx2, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func NewMongoRegistry(ctx context.Context, db *mongo.Database) (*MongoRegistry, error) {
	r := &MongoRegistry{
		trips:   db.Collection("trips"),
		history: db.Collection("location_history"),
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *MongoRegistry) ensureIndexes(ctx context.Context) error {
	_, err := r.trips.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "order_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = r.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "trip_id", Value: 1}, {Key: "ts", Value: -1}},
	})
	return err
}

func (r *MongoRegistry) CreateTrip(ctx context.Context, t *models.Trip) (*models.Trip, bool, error) {
	now := time.Now().UTC()
	cp := *t
	cp.CreatedAt = now
	cp.UpdatedAt = now
	_, err := r.trips.InsertOne(ctx, cp)
	if err == nil {
		return &cp, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, err
	}
	// Lost the race: another acceptance already created the trip for this
	// order. Return that one, this is success for the caller.
	existing, ferr := r.GetTripByOrder(ctx, t.OrderID)
	if ferr != nil {
		return nil, false, ferr
	}
	return existing, false, nil
}

func (r *MongoRegistry) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	var t models.Trip
	err := r.trips.FindOne(ctx, bson.M{"_id": tripID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *MongoRegistry) GetTripByOrder(ctx context.Context, orderID string) (*models.Trip, error) {
	var t models.Trip
	err := r.trips.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *MongoRegistry) UpdateStatus(ctx context.Context, tripID string, next models.TripStatus) (*models.Trip, error) {
	cur, err := r.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !cur.Status.CanTransitionTo(next) {
		return nil, ErrInvalidTransition
	}
	// Conditional on the status we read so a racing writer cannot move the
	// document backwards.
	res, err := r.trips.UpdateOne(ctx,
		bson.M{"_id": tripID, "status": cur.Status},
		bson.M{"$set": bson.M{"status": next, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrInvalidTransition
	}
	cur.Status = next
	return cur, nil
}

func (r *MongoRegistry) UpdateLocation(ctx context.Context, tripID string, loc models.LatLng) error {
	res, err := r.trips.UpdateOne(ctx,
		bson.M{"_id": tripID},
		bson.M{"$set": bson.M{"current_location": loc, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTripNotFound
	}
	return nil
}

func (r *MongoRegistry) AppendLocation(ctx context.Context, sample models.LocationSample) error {
	_, err := r.history.InsertOne(ctx, sample)
	return err
}
