package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/courierlane/trackhub/internal/broker/messages"
	"github.com/courierlane/trackhub/internal/cache/rediscache"
	"github.com/courierlane/trackhub/internal/hub"
	"github.com/courierlane/trackhub/internal/models"
)

type Repository interface {
	AppendLocation(ctx context.Context, in models.LocationCreateInput, status string) (*models.LocationRecord, error)
	LatestLocationByDelivery(ctx context.Context, deliveryID string) (*models.LocationRecord, error)
	StartSession(ctx context.Context, deliveryID, driverID string) (*models.TrackingSession, error)
	ActiveSessionByDelivery(ctx context.Context, deliveryID string) (*models.TrackingSession, error)
}

type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service is the message-handling core behind the websocket endpoint: the
// location ingest pipeline plus the subscribe/status/disconnect flows.
type Service struct {
	repo     Repository
	cache    BytesCache
	rl       RateLimiter
	producer Producer

	reg      *hub.Registry
	subs     *hub.SubscriptionIndex
	presence *hub.PresenceCache
	disp     *hub.Dispatcher

	locationTopic string
	cacheTTL      time.Duration
	reportLimit   int64

	reportsAccepted atomic.Int64
	reportsRejected atomic.Int64
}

type Options struct {
	LocationTopic          string
	DeliveryLocationTTL    time.Duration
	DriverReportsPerMinute int64
}

func New(repo Repository, cache BytesCache, rl RateLimiter, producer Producer,
	reg *hub.Registry, subs *hub.SubscriptionIndex, presence *hub.PresenceCache, disp *hub.Dispatcher,
	opts Options,
) *Service {
	return &Service{
		repo:          repo,
		cache:         cache,
		rl:            rl,
		producer:      producer,
		reg:           reg,
		subs:          subs,
		presence:      presence,
		disp:          disp,
		locationTopic: opts.LocationTopic,
		cacheTTL:      opts.DeliveryLocationTTL,
		reportLimit:   opts.DriverReportsPerMinute,
	}
}

// HandleConnected runs once per successful handshake.
func (s *Service) HandleConnected(connID, subjectID, role string) {
	s.reg.Send(connID, hub.ServerEvent{Event: hub.EventConnected, Data: hub.ConnectedPayload{
		Message:   "connected to tracking hub",
		UserID:    subjectID,
		Timestamp: time.Now().UTC(),
	}})
	if role == models.RoleDriver {
		s.disp.Global(hub.DriverStatusEvent(subjectID, models.DriverStatusOnline, nil))
	}
}

// HandleSubscribe registers interest and immediately pushes the current
// cached location (if any), so a late joiner is not blank until the next
// report.
func (s *Service) HandleSubscribe(ctx context.Context, connID, deliveryID string) {
	if deliveryID == "" {
		s.reg.Send(connID, hub.ErrorEvent("deliveryId is required"))
		return
	}
	s.subs.Subscribe(deliveryID, connID)
	s.reg.Send(connID, hub.ServerEvent{Event: hub.EventSubscribed, Data: hub.SubscriptionPayload{
		DeliveryID: deliveryID,
		Timestamp:  time.Now().UTC(),
	}})

	snap, err := s.LatestForDelivery(ctx, deliveryID)
	if err != nil {
		slog.Error("late-join snapshot lookup failed", "delivery_id", deliveryID, "error", err.Error())
		return
	}
	if snap == nil {
		return
	}
	// Гонка с одновременным unsubscribe той же пары: снапшот шлём только
	// пока подписка ещё на месте.
	if s.subs.IsSubscribed(deliveryID, connID) {
		s.reg.Send(connID, hub.LocationEvent(*snap))
	}
}

func (s *Service) HandleUnsubscribe(connID, deliveryID string) {
	if deliveryID == "" {
		s.reg.Send(connID, hub.ErrorEvent("deliveryId is required"))
		return
	}
	s.subs.Unsubscribe(deliveryID, connID)
	s.reg.Send(connID, hub.ServerEvent{Event: hub.EventUnsubscribed, Data: hub.SubscriptionPayload{
		DeliveryID: deliveryID,
		Timestamp:  time.Now().UTC(),
	}})
}

// HandleLocationUpdate is the ingest pipeline: gate, persist, cache,
// broadcast, ack. Only the персист может подвиснуть, и он идёт без
// каких-либо блокировок хаба.
func (s *Service) HandleLocationUpdate(ctx context.Context, connID, subjectID, role string, msg hub.ClientMessage) {
	if role != models.RoleDriver {
		s.reportsRejected.Add(1)
		s.reg.Send(connID, hub.ErrorEvent("only drivers may report locations"))
		return
	}
	if msg.DeliveryID == "" || msg.Coordinates == nil {
		s.reportsRejected.Add(1)
		s.reg.Send(connID, hub.ErrorEvent("deliveryId and coordinates are required"))
		return
	}
	c := *msg.Coordinates
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		s.reportsRejected.Add(1)
		s.reg.Send(connID, hub.ErrorEvent("coordinates out of range"))
		return
	}

	if s.rl != nil && s.reportLimit > 0 {
		key := rediscache.DriverReportsKey(subjectID, time.Now().UTC())
		allowed, n, err := s.rl.Allow(ctx, key, s.reportLimit, 70*time.Second)
		if err != nil {
			// Лимитер недоступен — пропускаем: трекинг важнее лимита.
			slog.Warn("rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			s.reportsRejected.Add(1)
			slog.Warn("driver report rate limit exceeded", "driver_id", subjectID, "count", n)
			s.reg.Send(connID, hub.ErrorEvent("too many location reports"))
			return
		}
	}

	// Водителя берём из токена, а не из сообщения.
	rec, err := s.repo.AppendLocation(ctx, models.LocationCreateInput{
		DeliveryID:  msg.DeliveryID,
		DriverID:    subjectID,
		Coordinates: c,
		Speed:       msg.Speed,
		Heading:     msg.Heading,
	}, models.LocationStatusActive)
	if err != nil {
		s.reportsRejected.Add(1)
		slog.Error("persist location failed", "delivery_id", msg.DeliveryID, "driver_id", subjectID, "error", err.Error())
		s.reg.Send(connID, hub.ErrorEvent("failed to store location"))
		return
	}

	snap := models.DriverPresence{
		DriverID:    subjectID,
		DeliveryID:  msg.DeliveryID,
		Coordinates: c,
		Speed:       msg.Speed,
		Heading:     msg.Heading,
		Status:      models.DriverStatusOnline,
		CapturedAt:  rec.CapturedAt,
	}
	s.presence.Update(snap)
	s.cacheDeliveryLocation(ctx, snap)

	s.disp.ToDelivery(msg.DeliveryID, hub.LocationEvent(snap))
	s.publishLocationFact(ctx, rec)

	s.reportsAccepted.Add(1)
	s.reg.Send(connID, hub.ServerEvent{Event: hub.EventLocationAck, Data: hub.AckPayload{
		DeliveryID: msg.DeliveryID,
		RecordID:   rec.ID,
		Timestamp:  rec.CapturedAt,
	}})
}

// HandleDriverStatus broadcasts an explicit online/offline/busy report.
func (s *Service) HandleDriverStatus(connID, subjectID, role string, msg hub.ClientMessage) {
	if role != models.RoleDriver {
		s.reg.Send(connID, hub.ErrorEvent("only drivers may report status"))
		return
	}
	switch msg.Status {
	case models.DriverStatusOnline, models.DriverStatusOffline, models.DriverStatusBusy:
	default:
		s.reg.Send(connID, hub.ErrorEvent("unknown status"))
		return
	}

	if snap, ok := s.presence.Get(subjectID); ok {
		snap.Status = msg.Status
		if msg.Coordinates != nil {
			snap.Coordinates = *msg.Coordinates
		}
		snap.CapturedAt = time.Now().UTC()
		s.presence.Update(snap)
	} else if msg.Coordinates != nil {
		s.presence.Update(models.DriverPresence{
			DriverID:    subjectID,
			Coordinates: *msg.Coordinates,
			Status:      msg.Status,
			CapturedAt:  time.Now().UTC(),
		})
	}

	s.disp.Global(hub.DriverStatusEvent(subjectID, msg.Status, msg.Coordinates))
}

// HandleDisconnect is the single cleanup path: subscriptions first, then the
// registry record, then the offline announcement. Подписки чистим до того,
// как реестр забудет соединение, чтобы не протекли мёртвые id.
func (s *Service) HandleDisconnect(ctx context.Context, connID string) {
	subjectID, role, authed := s.reg.Identity(connID)

	s.subs.RemoveConnection(connID)
	s.reg.Remove(connID)

	if !authed || role != models.RoleDriver {
		return
	}
	snap, ok := s.presence.Get(subjectID)
	if !ok {
		return
	}
	s.presence.Remove(subjectID)

	// Финальная точка со статусом ended — чтобы в истории был виден обрыв.
	if snap.DeliveryID != "" {
		if _, err := s.repo.AppendLocation(ctx, models.LocationCreateInput{
			DeliveryID:  snap.DeliveryID,
			DriverID:    subjectID,
			Coordinates: snap.Coordinates,
			Speed:       snap.Speed,
			Heading:     snap.Heading,
		}, models.LocationStatusEnded); err != nil {
			slog.Error("persist final location failed", "driver_id", subjectID, "error", err.Error())
		}
	}

	s.disp.Global(hub.DriverStatusEvent(subjectID, models.DriverStatusOffline, nil))
}

// HandleDeliveryEvent relays a domain event from the command layer to the
// delivery's subscribers. Malformed payloads are logged and skipped — they
// must never wedge the consumer.
func (s *Service) HandleDeliveryEvent(ctx context.Context, value []byte) error {
	var ev messages.DeliveryEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		slog.Error("malformed delivery event", "error", err.Error())
		return nil
	}
	if ev.DeliveryID == "" {
		slog.Error("delivery event without delivery_id", "type", ev.Type)
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	switch ev.Type {
	case messages.DeliveryEventDriverAssigned:
		if ev.DriverID != "" {
			if _, err := s.repo.StartSession(ctx, ev.DeliveryID, ev.DriverID); err != nil {
				slog.Error("start session failed", "delivery_id", ev.DeliveryID, "error", err.Error())
			}
		}
		s.disp.ToDelivery(ev.DeliveryID, hub.ServerEvent{Event: hub.EventDriverAssigned, Data: hub.DeliveryEventPayload{
			Type:       hub.EventDriverAssigned,
			DeliveryID: ev.DeliveryID,
			DriverID:   ev.DriverID,
			Data:       map[string]string{"action": "assigned"},
			Timestamp:  ev.Timestamp,
		}})
	case messages.DeliveryEventStatusChanged:
		payload := hub.DeliveryEventPayload{
			Type:       hub.EventDeliveryStatusChange,
			DeliveryID: ev.DeliveryID,
			DriverID:   ev.DriverID,
			Timestamp:  ev.Timestamp,
		}
		if len(ev.Data) > 0 {
			payload.Data = ev.Data
		}
		s.disp.ToDelivery(ev.DeliveryID, hub.ServerEvent{Event: hub.EventDeliveryStatusChange, Data: payload})
	default:
		slog.Debug("unknown delivery event type", "type", ev.Type)
	}
	return nil
}

// LatestForDelivery resolves the newest known location of a delivery:
// память -> Redis -> Postgres. Nil без ошибки, если доставка не трекалась.
func (s *Service) LatestForDelivery(ctx context.Context, deliveryID string) (*models.DriverPresence, error) {
	if snap, ok := s.presence.GetByDelivery(deliveryID); ok {
		return &snap, nil
	}

	if s.cache != nil && s.cacheTTL > 0 {
		b, ok, err := s.cache.Get(ctx, rediscache.DeliveryLocationKey(deliveryID))
		if err == nil && ok {
			var snap models.DriverPresence
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}

	rec, err := s.repo.LatestLocationByDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	snap := models.DriverPresence{
		DriverID:    rec.DriverID,
		DeliveryID:  rec.DeliveryID,
		Coordinates: rec.Coordinates,
		Speed:       rec.Speed,
		Heading:     rec.Heading,
		Status:      models.DriverStatusOffline,
		CapturedAt:  rec.CapturedAt,
	}
	s.cacheDeliveryLocation(ctx, snap)
	return &snap, nil
}

// ActiveSession answers "is this delivery being tracked right now".
func (s *Service) ActiveSession(ctx context.Context, deliveryID string) (*models.TrackingSession, error) {
	return s.repo.ActiveSessionByDelivery(ctx, deliveryID)
}

func (s *Service) cacheDeliveryLocation(ctx context.Context, snap models.DriverPresence) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	b, _ := json.Marshal(snap)
	// Кэш — лучшее усилие, он не обязан быть всегда.
	if err := s.cache.Set(ctx, rediscache.DeliveryLocationKey(snap.DeliveryID), b, s.cacheTTL); err != nil {
		slog.Warn("cache delivery location failed", "delivery_id", snap.DeliveryID, "error", err.Error())
	}
}

func (s *Service) publishLocationFact(ctx context.Context, rec *models.LocationRecord) {
	if s.producer == nil || s.locationTopic == "" {
		return
	}
	b, _ := json.Marshal(messages.LocationUpdated{
		DeliveryID:  rec.DeliveryID,
		DriverID:    rec.DriverID,
		Coordinates: rec.Coordinates,
		Speed:       rec.Speed,
		Heading:     rec.Heading,
		CapturedAt:  rec.CapturedAt,
	})
	if err := s.producer.Publish(ctx, s.locationTopic, []byte(rec.DeliveryID), b); err != nil {
		slog.Warn("publish location fact failed", "delivery_id", rec.DeliveryID, "error", err.Error())
	}
}

type Stats struct {
	Connections        int   `json:"connections"`
	WatchedDeliveries  int   `json:"watchedDeliveries"`
	DriversOnline      int   `json:"driversOnline"`
	ReportsAccepted    int64 `json:"reportsAccepted"`
	ReportsRejected    int64 `json:"reportsRejected"`
	EventsSent         int64 `json:"eventsSent"`
	EventsDropped      int64 `json:"eventsDropped"`
	DeliveryBroadcasts int64 `json:"deliveryBroadcasts"`
	GlobalBroadcasts   int64 `json:"globalBroadcasts"`
}

func (s *Service) Stats() Stats {
	return Stats{
		Connections:        s.reg.Count(),
		WatchedDeliveries:  s.subs.DeliveryCount(),
		DriversOnline:      s.presence.Len(),
		ReportsAccepted:    s.reportsAccepted.Load(),
		ReportsRejected:    s.reportsRejected.Load(),
		EventsSent:         s.reg.SentTotal(),
		EventsDropped:      s.reg.DroppedTotal(),
		DeliveryBroadcasts: s.disp.DeliveryBroadcastsTotal(),
		GlobalBroadcasts:   s.disp.GlobalBroadcastsTotal(),
	}
}
