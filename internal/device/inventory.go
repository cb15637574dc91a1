package device

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"livecam/native/internal/domain"
)

// Inventory keeps the last known list of camera inputs.
type Inventory struct {
	enum domain.DeviceEnumerator
	log  zerolog.Logger

	mu      sync.RWMutex
	devices []domain.DeviceDescriptor
}

// NewInventory creates an Inventory backed by enum. A nil enum behaves as
// a platform without device enumeration.
func NewInventory(enum domain.DeviceEnumerator, log zerolog.Logger) *Inventory {
	return &Inventory{
		enum: enum,
		log:  log.With().Str("module", "device").Logger(),
	}
}

// ListVideoInputs returns the video inputs the platform reports. It never
// fails: a missing or failing enumerator yields an empty list.
func (i *Inventory) ListVideoInputs(ctx context.Context) []domain.DeviceDescriptor {
	out := []domain.DeviceDescriptor{}
	if i.enum == nil {
		i.log.Debug().Msg("device enumeration unavailable")
		return out
	}

	devices, err := i.enum.Enumerate(ctx)
	if err != nil {
		i.log.Debug().Err(err).Msg("enumerate devices")
		return out
	}
	for _, d := range devices {
		if d.Kind != domain.DeviceVideoInput {
			continue
		}
		out = append(out, domain.DeviceDescriptor{ID: d.ID, Label: d.Label})
	}
	return out
}

// Refresh re-enumerates and replaces the stored list.
func (i *Inventory) Refresh(ctx context.Context) []domain.DeviceDescriptor {
	devices := i.ListVideoInputs(ctx)

	i.mu.Lock()
	i.devices = devices
	i.mu.Unlock()

	i.log.Debug().Int("count", len(devices)).Msg("inventory refreshed")
	return Copy(devices)
}

// Snapshot returns a copy of the stored list.
func (i *Inventory) Snapshot() []domain.DeviceDescriptor {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Copy(i.devices)
}

// Copy returns an independent copy of devices, never nil.
func Copy(devices []domain.DeviceDescriptor) []domain.DeviceDescriptor {
	out := make([]domain.DeviceDescriptor, len(devices))
	copy(out, devices)
	return out
}
