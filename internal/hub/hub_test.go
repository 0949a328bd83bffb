package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/courierlane/trackhub/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	events []ServerEvent
	closed bool
	failed bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errClosed
	}
	f.events = append(f.events, v.(ServerEvent))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) byName(event string) []ServerEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ServerEvent
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

var errClosed = &closedErr{}

type closedErr struct{}

func (*closedErr) Error() string { return "use of closed connection" }

func TestRegistry_AcceptAuthenticateCount(t *testing.T) {
	r := NewRegistry()
	id := r.Accept(&fakeConn{})

	// До аутентификации соединение клиентом не считается.
	require.Equal(t, 0, r.Count())
	_, _, ok := r.Identity(id)
	require.False(t, ok)

	require.True(t, r.Authenticate(id, "usr-1", models.RoleCustomer))
	require.Equal(t, 1, r.Count())

	sub, role, ok := r.Identity(id)
	require.True(t, ok)
	require.Equal(t, "usr-1", sub)
	require.Equal(t, models.RoleCustomer, role)
}

func TestRegistry_SendToGoneConnIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Send("conn-404", ErrorEvent("nope")) // must not panic

	c := &fakeConn{failed: true}
	id := r.Accept(c)
	r.Authenticate(id, "usr-1", models.RoleCustomer)
	r.Send(id, PongEvent()) // write error is swallowed
	require.Equal(t, int64(2), r.DroppedTotal())
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	id := r.Accept(c)
	r.Authenticate(id, "usr-1", models.RoleDriver)

	r.Remove(id)
	r.Remove(id)
	require.Equal(t, 0, r.Count())
	require.True(t, c.closed)
}

func TestRegistry_AuthenticateUnknownConn(t *testing.T) {
	r := NewRegistry()
	require.False(t, r.Authenticate("conn-404", "usr-1", models.RoleDriver))
}

func TestSubscriptions_Idempotent(t *testing.T) {
	s := NewSubscriptionIndex()
	s.Subscribe("del-1", "conn-1")
	s.Subscribe("del-1", "conn-1")
	require.Len(t, s.SubscribersOf("del-1"), 1)
}

func TestSubscriptions_UnsubscribePrunes(t *testing.T) {
	s := NewSubscriptionIndex()
	s.Subscribe("del-1", "conn-1")
	s.Unsubscribe("del-1", "conn-1")
	s.Unsubscribe("del-1", "conn-1") // idempotent
	require.Empty(t, s.SubscribersOf("del-1"))
	require.Equal(t, 0, s.DeliveryCount())
}

func TestSubscriptions_RemoveConnectionEverywhere(t *testing.T) {
	s := NewSubscriptionIndex()
	s.Subscribe("del-1", "conn-1")
	s.Subscribe("del-2", "conn-1")
	s.Subscribe("del-2", "conn-2")

	s.RemoveConnection("conn-1")

	require.Empty(t, s.SubscribersOf("del-1"))
	require.Equal(t, []string{"conn-2"}, s.SubscribersOf("del-2"))
	// del-1 опустела и должна исчезнуть целиком
	require.Equal(t, 1, s.DeliveryCount())
}

func TestSubscriptions_UnknownDeliveryIsEmptyNotError(t *testing.T) {
	s := NewSubscriptionIndex()
	require.NotNil(t, s.SubscribersOf("del-404"))
	require.Empty(t, s.SubscribersOf("del-404"))
}

func TestPresence_LastWriteWins(t *testing.T) {
	p := NewPresenceCache()
	first := models.DriverPresence{
		DriverID:    "drv-1",
		DeliveryID:  "del-1",
		Coordinates: models.Coordinates{Latitude: 1.0, Longitude: 2.0},
		Status:      models.DriverStatusOnline,
		CapturedAt:  time.Now().UTC(),
	}
	second := first
	second.Coordinates = models.Coordinates{Latitude: 3.0, Longitude: 4.0}
	// Второй репорт ссылается на другую доставку — всё равно вытесняет первый.
	second.DeliveryID = "del-2"

	p.Update(first)
	p.Update(second)

	got, ok := p.Get("drv-1")
	require.True(t, ok)
	require.Equal(t, 3.0, got.Coordinates.Latitude)
	require.Equal(t, "del-2", got.DeliveryID)
	require.Equal(t, 1, p.Len())
}

func TestPresence_GetByDelivery(t *testing.T) {
	p := NewPresenceCache()
	p.Update(models.DriverPresence{DriverID: "drv-1", DeliveryID: "del-1"})
	p.Update(models.DriverPresence{DriverID: "drv-2", DeliveryID: "del-2"})

	snap, ok := p.GetByDelivery("del-2")
	require.True(t, ok)
	require.Equal(t, "drv-2", snap.DriverID)

	_, ok = p.GetByDelivery("del-404")
	require.False(t, ok)

	p.Remove("drv-2")
	_, ok = p.GetByDelivery("del-2")
	require.False(t, ok)
}

func TestDispatcher_DeliveryScopedFanOut(t *testing.T) {
	reg := NewRegistry()
	subs := NewSubscriptionIndex()
	d := NewDispatcher(reg, subs)

	conns := make([]*fakeConn, 4)
	ids := make([]string, 4)
	for i := range conns {
		conns[i] = &fakeConn{}
		ids[i] = reg.Accept(conns[i])
		reg.Authenticate(ids[i], "usr", models.RoleCustomer)
	}
	subs.Subscribe("del-1", ids[0])
	subs.Subscribe("del-1", ids[1])
	subs.Subscribe("del-1", ids[2])
	subs.Subscribe("del-2", ids[3])

	ev := LocationEvent(models.DriverPresence{
		DriverID:    "drv-1",
		DeliveryID:  "del-1",
		Coordinates: models.Coordinates{Latitude: 1.0, Longitude: 2.0},
		CapturedAt:  time.Now().UTC(),
	})
	n := d.ToDelivery("del-1", ev)
	require.Equal(t, 3, n)

	for i := 0; i < 3; i++ {
		got := conns[i].byName(EventLocationUpdate)
		require.Len(t, got, 1)
		payload := got[0].Data.(LocationPayload)
		require.Equal(t, 1.0, payload.Coordinates.Latitude)
		require.Equal(t, 2.0, payload.Coordinates.Longitude)
	}
	require.Empty(t, conns[3].byName(EventLocationUpdate))
}

func TestDispatcher_GlobalReachesEveryLiveConn(t *testing.T) {
	reg := NewRegistry()
	subs := NewSubscriptionIndex()
	d := NewDispatcher(reg, subs)

	c1, c2 := &fakeConn{}, &fakeConn{}
	id1 := reg.Accept(c1)
	reg.Authenticate(id1, "usr-1", models.RoleCustomer)
	id2 := reg.Accept(c2)
	reg.Authenticate(id2, "drv-2", models.RoleDriver)
	// Не прошедшее рукопожатие соединение глобальный бродкаст не получает.
	reg.Accept(&fakeConn{})

	n := d.Global(DriverStatusEvent("drv-9", models.DriverStatusOffline, nil))
	require.Equal(t, 2, n)

	for _, c := range []*fakeConn{c1, c2} {
		got := c.byName(EventDriverStatusChange)
		require.Len(t, got, 1)
		payload := got[0].Data.(DriverStatusPayload)
		require.Equal(t, "drv-9", payload.DriverID)
		require.Equal(t, models.DriverStatusOffline, payload.Data.Status)
	}
}
