package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saviobatista/orbit-tracker/internal/stats"
)

// ErrConnectionRejected is reported for connections without a usable operator id
var ErrConnectionRejected = errors.New("connection rejected")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	queueSize      = 64
)

// Frame is a control message exchanged with clients
type Frame struct {
	Type       string `json:"type"`
	OperatorID string `json:"operatorId,omitempty"`
	Message    string `json:"message,omitempty"`
}

const (
	FrameConnectionSuccess = "CONNECTION_SUCCESS"
	FrameError             = "ERROR"
	FramePing              = "PING"
	FramePong              = "PONG"
)

// Hub tracks live sessions and routes payloads to the sessions of an operator
type Hub struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*Session
	byOperator map[uuid.UUID]map[uuid.UUID]struct{}

	upgrader websocket.Upgrader
	stats    *stats.Stats
	logger   *slog.Logger
}

// NewHub creates an empty hub
func NewHub(st *stats.Stats, logger *slog.Logger) *Hub {
	return &Hub{
		sessions:   make(map[uuid.UUID]*Session),
		byOperator: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		upgrader: websocket.Upgrader{
			EnableCompression: false,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		stats:  st,
		logger: logger.With("component", "delivery"),
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s.id] = s
	set, ok := h.byOperator[s.operatorID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		h.byOperator[s.operatorID] = set
	}
	set[s.id] = struct{}{}
	h.stats.SessionOpened()
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.id]; !ok {
		return
	}
	delete(h.sessions, s.id)
	if set, ok := h.byOperator[s.operatorID]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(h.byOperator, s.operatorID)
		}
	}
	h.stats.SessionClosed()
}

// SendToOperator queues payload on every live session of the operator and returns
// how many accepted it. A session whose queue is full misses this payload.
func (h *Hub) SendToOperator(operatorID uuid.UUID, payload []byte) int {
	h.mu.RLock()
	set := h.byOperator[operatorID]
	targets := make([]*Session, 0, len(set))
	for id := range set {
		if s, ok := h.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.enqueue(payload) {
			delivered++
		} else {
			h.logger.Warn("dropping frame for slow session", "session_id", s.id, "operator_id", operatorID)
		}
	}
	return delivered
}

// SessionCount returns the number of live sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OperatorCount returns the number of operators with at least one live session
func (h *Hub) OperatorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byOperator)
}

// Register exposes the routing table sizes on reg
func (h *Hub) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "orbit_tracker",
			Name:      "routed_sessions",
			Help:      "Sessions currently registered for routing.",
		}, func() float64 { return float64(h.SessionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "orbit_tracker",
			Name:      "connected_operators",
			Help:      "Operators with at least one live session.",
		}, func() float64 { return float64(h.OperatorCount()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register hub collector: %w", err)
		}
	}
	return nil
}

// Close disconnects every session
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.close()
	}
}

// operatorFromRequest reads operatorId, falling back to the legacy enterpriseId parameter
func operatorFromRequest(r *http.Request) (uuid.UUID, error) {
	q := r.URL.Query()
	raw := q.Get("operatorId")
	if raw == "" {
		raw = q.Get("enterpriseId")
	}
	if raw == "" {
		return uuid.Nil, errors.New("missing operatorId")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid operatorId")
	}
	return id, nil
}

// ServeHTTP upgrades the request and runs the session until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("unable to upgrade websocket", "error", err)
		return
	}

	operatorID, err := operatorFromRequest(r)
	if err != nil {
		h.reject(conn, err)
		return
	}

	s := newSession(h, conn, operatorID)
	// acknowledgement is queued first so it precedes any routed payload
	s.enqueueFrame(Frame{Type: FrameConnectionSuccess, OperatorID: operatorID.String()})
	h.register(s)
	h.logger.Info("session connected", "session_id", s.id, "operator_id", operatorID, "remote", r.RemoteAddr)

	go s.writeLoop()
	s.readLoop()
}

func (h *Hub) reject(conn *websocket.Conn, reason error) {
	h.logger.Warn("rejecting connection", "error", errors.Join(ErrConnectionRejected, reason))

	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(Frame{Type: FrameError, Message: reason.Error()})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason.Error()), deadline)
	_ = conn.Close()
}
