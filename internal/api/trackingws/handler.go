package trackingws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/courierlane/trackhub/internal/auth"
	"github.com/courierlane/trackhub/internal/hub"
)

const (
	defaultAuthGrace = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second
	maxMessageSize   = 4096
)

type Service interface {
	HandleConnected(connID, subjectID, role string)
	HandleSubscribe(ctx context.Context, connID, deliveryID string)
	HandleUnsubscribe(connID, deliveryID string)
	HandleLocationUpdate(ctx context.Context, connID, subjectID, role string, msg hub.ClientMessage)
	HandleDriverStatus(connID, subjectID, role string, msg hub.ClientMessage)
	HandleDisconnect(ctx context.Context, connID string)
}

// Handler upgrades HTTP requests into hub connections and pumps their
// messages into the service. Одно соединение — одна горутина чтения.
type Handler struct {
	svc       Service
	reg       *hub.Registry
	verifier  auth.Verifier
	upgrader  websocket.Upgrader
	authGrace time.Duration
}

func New(svc Service, reg *hub.Registry, verifier auth.Verifier, authGrace time.Duration) *Handler {
	if authGrace <= 0 {
		authGrace = defaultAuthGrace
	}
	return &Handler{
		svc:      svc,
		reg:      reg,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		authGrace: authGrace,
	}
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	ident, ok := h.handshake(conn, r)
	if !ok {
		// Провал аутентификации терминален: закрываем без событий,
		// клиент переподключается с валидным токеном.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(writeWait))
		return
	}

	connID := h.reg.Accept(conn)
	h.reg.Authenticate(connID, ident.SubjectID, ident.Role)
	// Disconnect cleanup runs on Background: the request context is already
	// dead by the time the read loop exits.
	defer h.svc.HandleDisconnect(context.Background(), connID)

	slog.Info("ws connected", "conn_id", connID, "subject_id", ident.SubjectID, "role", ident.Role)
	h.svc.HandleConnected(connID, ident.SubjectID, ident.Role)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.keepalive(ctx, conn)

	h.readLoop(ctx, conn, connID, ident)
	slog.Info("ws disconnected", "conn_id", connID, "subject_id", ident.SubjectID)
}

// handshake binds an identity before anything else is processed. The token
// can come in the Authorization header, the token query param, or a first
// auth message inside the grace window.
func (h *Handler) handshake(conn *websocket.Conn, r *http.Request) (auth.Identity, bool) {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token != "" {
		ident, err := h.verifier.Verify(token)
		if err != nil {
			slog.Warn("ws auth rejected", "remote", r.RemoteAddr)
			return auth.Identity{}, false
		}
		return ident, true
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.authGrace))
	_, data, err := conn.ReadMessage()
	if err != nil {
		// Не уложился в грейс — освобождаем сокет.
		slog.Warn("ws auth timeout", "remote", r.RemoteAddr)
		return auth.Identity{}, false
	}

	var msg hub.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != hub.MsgAuth {
		slog.Warn("ws auth message malformed", "remote", r.RemoteAddr)
		return auth.Identity{}, false
	}
	ident, err := h.verifier.Verify(msg.Token)
	if err != nil {
		slog.Warn("ws auth rejected", "remote", r.RemoteAddr)
		return auth.Identity{}, false
	}
	return ident, true
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, connID string, ident auth.Identity) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg hub.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reg.Send(connID, hub.ErrorEvent("malformed message"))
			continue
		}
		h.dispatch(ctx, connID, ident, msg)
	}
}

// dispatch routes one decoded message. Паника в обработчике не должна
// уронить процесс с чужими соединениями.
func (h *Handler) dispatch(ctx context.Context, connID string, ident auth.Identity, msg hub.ClientMessage) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("ws handler panic", "conn_id", connID, "type", msg.Type, "panic", p)
			h.reg.Send(connID, hub.ErrorEvent("internal error"))
		}
	}()

	switch msg.Type {
	case hub.MsgPing:
		h.reg.Send(connID, hub.PongEvent())
	case hub.MsgSubscribeDelivery:
		h.svc.HandleSubscribe(ctx, connID, msg.DeliveryID)
	case hub.MsgUnsubscribeDelivery:
		h.svc.HandleUnsubscribe(connID, msg.DeliveryID)
	case hub.MsgLocationUpdate:
		h.svc.HandleLocationUpdate(ctx, connID, ident.SubjectID, ident.Role, msg)
	case hub.MsgDriverStatus:
		h.svc.HandleDriverStatus(connID, ident.SubjectID, ident.Role, msg)
	case hub.MsgAuth:
		// уже аутентифицирован, повторный auth игнорируем
	default:
		h.reg.Send(connID, hub.ErrorEvent("unknown message type"))
	}
}

func (h *Handler) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
