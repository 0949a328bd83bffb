package hub

import (
	"sync"

	"github.com/courierlane/trackhub/internal/models"
)

// PresenceCache keeps the most recently accepted report per driver.
// Last write wins: точного порядка между гонками одного водителя не обещаем,
// для карты с людьми лёгкая устарелость допустима.
type PresenceCache struct {
	mu      sync.RWMutex
	drivers map[string]models.DriverPresence
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{drivers: make(map[string]models.DriverPresence)}
}

func (p *PresenceCache) Update(snap models.DriverPresence) {
	p.mu.Lock()
	p.drivers[snap.DriverID] = snap
	p.mu.Unlock()
}

func (p *PresenceCache) Get(driverID string) (models.DriverPresence, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap, ok := p.drivers[driverID]
	return snap, ok
}

// GetByDelivery is a linear scan; the map is bounded by concurrently-active
// drivers, not by anything historical.
func (p *PresenceCache) GetByDelivery(deliveryID string) (models.DriverPresence, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, snap := range p.drivers {
		if snap.DeliveryID == deliveryID {
			return snap, true
		}
	}
	return models.DriverPresence{}, false
}

func (p *PresenceCache) Remove(driverID string) {
	p.mu.Lock()
	delete(p.drivers, driverID)
	p.mu.Unlock()
}

func (p *PresenceCache) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.drivers)
}
