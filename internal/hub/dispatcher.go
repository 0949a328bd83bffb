package hub

import "sync/atomic"

// Dispatcher fans an event out either to the subscribers of one delivery or
// to every live connection. Global addressing is used only for driver
// presence announcements: they are rare, and per-connection filtering is not
// worth the bookkeeping.
type Dispatcher struct {
	reg  *Registry
	subs *SubscriptionIndex

	deliveryBroadcasts atomic.Int64
	globalBroadcasts   atomic.Int64
}

func NewDispatcher(reg *Registry, subs *SubscriptionIndex) *Dispatcher {
	return &Dispatcher{reg: reg, subs: subs}
}

// ToDelivery pushes ev to every subscriber of deliveryID and returns how
// many connections were addressed.
func (d *Dispatcher) ToDelivery(deliveryID string, ev ServerEvent) int {
	ids := d.subs.SubscribersOf(deliveryID)
	for _, id := range ids {
		d.reg.Send(id, ev)
	}
	d.deliveryBroadcasts.Add(1)
	return len(ids)
}

// Global pushes ev to every authenticated connection.
func (d *Dispatcher) Global(ev ServerEvent) int {
	d.globalBroadcasts.Add(1)
	return d.reg.SendAll(ev)
}

func (d *Dispatcher) DeliveryBroadcastsTotal() int64 { return d.deliveryBroadcasts.Load() }
func (d *Dispatcher) GlobalBroadcastsTotal() int64   { return d.globalBroadcasts.Load() }
