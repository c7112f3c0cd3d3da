package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/busfleet/backend/internal/domain"
)

// DeviceService ingests tablet heartbeats: it refreshes the device's
// last-known state, then hands the heartbeat to the ETA calculator as a
// best-effort side computation.
type DeviceService struct {
	devices domain.DeviceRepository
	eta     *ETAService
	log     zerolog.Logger
	now     func() time.Time
}

// NewDeviceService creates a new device service.
func NewDeviceService(devices domain.DeviceRepository, eta *ETAService, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		devices: devices,
		eta:     eta,
		log:     log.With().Str("component", "device").Logger(),
		now:     time.Now,
	}
}

// RecordHeartbeat persists the device state carried by hb and then runs
// the arrival update. A failed arrival update is logged and swallowed:
// it must never fail the heartbeat acknowledgement itself.
func (s *DeviceService) RecordHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	st := domain.DeviceState{
		DeviceID:     hb.DeviceID,
		VehicleNo:    hb.VehicleNo,
		DriverName:   hb.DriverName,
		RouteID:      hb.RouteID,
		DiaID:        hb.DiaID,
		DelayMinutes: int(math.Round(hb.DelayMinutes)),
		LastSeen:     s.now(),
	}
	if err := s.devices.UpsertDeviceState(ctx, st); err != nil {
		return fmt.Errorf("device: record heartbeat for %s: %w", hb.DeviceID, err)
	}

	if err := s.eta.UpdateArrivalsFromHeartbeat(ctx, hb); err != nil {
		s.log.Error().Err(err).Str("device", hb.DeviceID).Msg("arrival update failed")
	}
	return nil
}

// GetDeviceState returns the last-known state for one device.
func (s *DeviceService) GetDeviceState(ctx context.Context, deviceID string) (*domain.DeviceState, error) {
	return s.devices.GetDeviceState(ctx, deviceID)
}
