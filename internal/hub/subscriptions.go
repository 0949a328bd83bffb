package hub

import "sync"

// SubscriptionIndex maps delivery id -> set of connection ids observing it.
// Пустые множества сразу удаляются: отсутствие ключа == никто не смотрит.
type SubscriptionIndex struct {
	mu         sync.RWMutex
	byDelivery map[string]map[string]struct{}
}

func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{byDelivery: make(map[string]map[string]struct{})}
}

// Subscribe is idempotent.
func (s *SubscriptionIndex) Subscribe(deliveryID, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byDelivery[deliveryID]
	if !ok {
		set = make(map[string]struct{})
		s.byDelivery[deliveryID] = set
	}
	set[connID] = struct{}{}
}

// Unsubscribe is idempotent and prunes the delivery entry once empty.
func (s *SubscriptionIndex) Unsubscribe(deliveryID, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.byDelivery[deliveryID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.byDelivery, deliveryID)
	}
}

// SubscribersOf returns a snapshot copy; unknown delivery ids yield an empty
// slice, not an error.
func (s *SubscriptionIndex) SubscribersOf(deliveryID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byDelivery[deliveryID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsSubscribed reports current membership for one pair.
func (s *SubscriptionIndex) IsSubscribed(deliveryID, connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byDelivery[deliveryID][connID]
	return ok
}

// RemoveConnection drops the connection from every delivery set in one
// locked pass. Called on disconnect, before the registry lets go of the
// connection record, so no stale subscriber id survives the cleanup.
func (s *SubscriptionIndex) RemoveConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for deliveryID, set := range s.byDelivery {
		delete(set, connID)
		if len(set) == 0 {
			delete(s.byDelivery, deliveryID)
		}
	}
}

// DeliveryCount — сколько доставок сейчас кто-то наблюдает.
func (s *SubscriptionIndex) DeliveryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDelivery)
}
