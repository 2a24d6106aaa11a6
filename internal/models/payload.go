package models

import "time"

// PayloadLocation is the location block of an event payload
type PayloadLocation struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    float64 `json:"altitude"`
	Heading     float64 `json:"heading"`
	TerrainType string  `json:"terrain_type"`
	LandUse     string  `json:"land_use"`
}

// EventPayload is the JSON body posted to the event sink
type EventPayload struct {
	ID        string          `json:"id,omitempty"`
	DeviceID  string          `json:"device_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Location  PayloadLocation `json:"location"`
	Analysis  Verdict         `json:"analysis"`
	// Base64 JPEG; empty when the frame could not be encoded
	ImageData string `json:"image_data"`
}

// NewEventPayload builds the wire payload for an event without its image
func NewEventPayload(event *EventRecord, deviceID string) EventPayload {
	return EventPayload{
		ID:        event.ID,
		DeviceID:  deviceID,
		Timestamp: event.Timestamp,
		Location: PayloadLocation{
			Latitude:    event.Location.Latitude,
			Longitude:   event.Location.Longitude,
			Altitude:    event.Location.Altitude,
			Heading:     event.Location.Heading,
			TerrainType: string(event.Location.TerrainType),
			LandUse:     event.Location.LandUse,
		},
		Analysis: event.Verdict,
	}
}
