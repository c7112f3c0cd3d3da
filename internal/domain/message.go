package domain

import "time"

// Message is an operator message to one device or to the whole fleet
// (empty DeviceID). Delivered live over the push channel and readable
// later from the log.
type Message struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
