// Package status translates internal trip lifecycle states into the
// user-facing status vocabulary carried on notification payloads.
package status

import (
	"strings"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// View is what a customer sees for a given internal status.
type View struct {
	Status           string
	Message          string
	EstimatedArrival string
}

var table = map[models.TripStatus]View{
	models.StatusAssigned: {
		Status:           "AWAITING_PICKUP",
		Message:          "Driver is heading to the pickup location",
		EstimatedArrival: "15-20 minutes",
	},
	models.StatusPickup: {
		Status:           "AWAITING_PICKUP",
		Message:          "Driver has arrived at the pickup location",
		EstimatedArrival: "10-15 minutes",
	},
	models.StatusDelivering: {
		Status:           "IN_TRANSIT",
		Message:          "Package picked up, on the way to you",
		EstimatedArrival: "20-30 minutes",
	},
	models.StatusCompleted: {
		Status:           "DELIVERED",
		Message:          "Delivery completed",
		EstimatedArrival: "Delivered",
	},
	models.StatusCancelled: {
		Status:           "CANCELLED",
		Message:          "Delivery cancelled",
		EstimatedArrival: "",
	},
}

// Map looks up the user-facing view for an internal status. Unmapped statuses
// pass through upper-cased so a new lifecycle state never breaks delivery.
func Map(s models.TripStatus) View {
	if v, ok := table[s]; ok {
		return v
	}
	up := strings.ToUpper(string(s))
	return View{Status: up, Message: up}
}
