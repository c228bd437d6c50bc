package models

import "time"

// Charger is the persisted identity record of a charging station.
type Charger struct {
	ID              string
	Vendor          string
	Model           string
	FirmwareVersion string
	Status          string
	Connected       bool
	LastHeartbeat   time.Time
}
