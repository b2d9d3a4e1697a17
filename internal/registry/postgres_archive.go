package registry

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// PostgresArchive keeps an append-only copy of location samples in Postgres
// for offline analysis. Writes are best-effort: callers log failures and keep
// going, the archive is never on the delivery path.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) Append(sample models.LocationSample) error {
	_, err := p.db.Exec(
		`INSERT INTO location_samples(trip_id, lat, lng, recorded_at) VALUES($1,$2,$3,$4)`,
		sample.TripID, sample.Location.Lat, sample.Location.Lng, sample.Timestamp,
	)
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
