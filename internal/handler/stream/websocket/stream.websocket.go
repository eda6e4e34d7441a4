package websocket

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krobus00/price-stream-service/internal/auth"
	"github.com/krobus00/price-stream-service/internal/broadcaster"
	"github.com/krobus00/price-stream-service/internal/infrastructure"
	"github.com/sirupsen/logrus"
)

const (
	StreamPath = "/stock-updates"

	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 60 * time.Second
)

type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	AllowedOrigins []string
}

type Handler struct {
	authenticator *auth.Authenticator
	broadcaster   *broadcaster.Broadcaster
	upgrader      websocket.Upgrader
	pingInterval  time.Duration
	pongWait      time.Duration
}

func NewStreamHandler(authenticator *auth.Authenticator, b *broadcaster.Broadcaster, cfg Config) *Handler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	return &Handler{
		authenticator: authenticator,
		broadcaster:   b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+StreamPath, h.Stream)
}

// Stream authenticates the handshake, upgrades and keeps the connection
// admitted until the client goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	state := broadcaster.NewStateMachine()
	_ = state.Transition(broadcaster.StateAuthenticating)

	principal, err := h.authenticator.Authenticate(r.Context(), auth.FromRequest(r))
	if err != nil {
		_ = state.Transition(broadcaster.StateDisconnected)

		reason, _ := auth.ReasonOf(err)
		logrus.WithError(err).WithFields(logrus.Fields{
			"reason":      reason,
			"remote_addr": r.RemoteAddr,
			"request_id":  infrastructure.RequestIDFromContext(r.Context()),
		}).Warn("stream connection rejected")

		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": reason})
		return
	}

	r = r.WithContext(auth.WithPrincipal(r.Context(), principal))
	userID := auth.UserIDFromContext(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = state.Transition(broadcaster.StateDisconnected)
		logrus.WithError(err).WithField("user_id", userID).Warn("websocket upgrade failed")
		return
	}

	c := newConn(uuid.NewString(), ws)

	sub, err := h.broadcaster.Admit(c, principal, state)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("failed to admit connection")
		_ = c.Close()
		return
	}
	defer h.broadcaster.Remove(c.ID())

	logrus.WithFields(logrus.Fields{
		"conn_id":    c.ID(),
		"user_id":    userID,
		"request_id": infrastructure.RequestIDFromContext(r.Context()),
	}).Debug("stream connection admitted")

	go c.pingLoop(sub.Done(), h.pingInterval)

	err = c.readLoop(h.pongWait)
	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		logrus.WithError(err).WithField("conn_id", c.ID()).Debug("websocket read ended")
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
