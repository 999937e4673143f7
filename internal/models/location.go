package models

import "time"

// Location represents a geographical position with the time it was observed.
type Location struct {
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
