package service

import (
	"github.com/busfleet/backend/internal/domain"
)

// Repository is re-exported from domain for convenience
type Repository = domain.Repository

// Broadcaster is the push fan-out the services publish to. Satisfied by
// *sse.Hub; kept as an interface so services can be tested without a
// live transport.
type Broadcaster interface {
	Broadcast(event string, payload any)
	BroadcastDevice(deviceID, event string, payload any)
}
