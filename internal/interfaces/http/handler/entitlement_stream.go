package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	appentitlement "github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/application/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream event names
const (
	StreamEventConnected    = "connected"
	StreamEventEntitlement  = "entitlement"
	StreamEventHeartbeat    = "heartbeat"
	StreamEventSessionEnded = "session_ended"
)

// EntitlementSubscriber hands out per-user update subscriptions
type EntitlementSubscriber interface {
	Subscribe(identity entitlement.Identity) *appentitlement.Subscription
}

// StreamEvent is the payload of an entitlement event
type StreamEvent struct {
	Reason string                   `json:"reason"`
	State  EntitlementStateResponse `json:"state"`
	// Decision is the guard's verdict for entitled routes under State
	Decision string `json:"decision"`
}

type streamClient struct {
	id     string
	userID string
	done   chan struct{}
	once   sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

type sseMessage struct {
	Event string
	Data  string
	ID    string
}

// EntitlementStreamHandler pushes entitlement changes to signed-in clients
// over server-sent events
type EntitlementStreamHandler struct {
	BaseHandler
	subscriber EntitlementSubscriber
	resolver   EntitlementResolver
	logger     *zap.Logger
	clients    sync.Map // map[string]*streamClient
	count      atomic.Int64
	ctx        context.Context
	cancel     context.CancelFunc
	heartbeat  time.Duration
	maxClients int
	seq        atomic.Uint64
}

// StreamOption is a functional option for configuring the handler
type StreamOption func(*EntitlementStreamHandler)

// WithStreamLogger sets the logger for the handler
func WithStreamLogger(logger *zap.Logger) StreamOption {
	return func(h *EntitlementStreamHandler) {
		h.logger = logger
	}
}

// WithStreamHeartbeat sets the heartbeat interval
func WithStreamHeartbeat(interval time.Duration) StreamOption {
	return func(h *EntitlementStreamHandler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithStreamMaxClients caps concurrent streams; zero means unlimited
func WithStreamMaxClients(max int) StreamOption {
	return func(h *EntitlementStreamHandler) {
		h.maxClients = max
	}
}

// NewEntitlementStreamHandler creates a new stream handler
func NewEntitlementStreamHandler(subscriber EntitlementSubscriber, resolver EntitlementResolver, opts ...StreamOption) *EntitlementStreamHandler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &EntitlementStreamHandler{
		subscriber: subscriber,
		resolver:   resolver,
		logger:     zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
		heartbeat:  30 * time.Second,
		maxClients: 10000,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Stop disconnects every client. Streams opened afterwards end immediately.
func (h *EntitlementStreamHandler) Stop() {
	h.cancel()
	h.clients.Range(func(_, value any) bool {
		if client, ok := value.(*streamClient); ok {
			client.close()
		}
		return true
	})
	h.logger.Info("Entitlement stream handler stopped")
}

// ClientCount returns the number of connected clients
func (h *EntitlementStreamHandler) ClientCount() int {
	return int(h.count.Load())
}

// Stream godoc
// @Summary      Subscribe to entitlement changes via SSE
// @Description  Sends the current entitlement, then every re-resolution. The stream ends with session_ended on sign-out.
// @Tags         entitlement
// @Produce      text/event-stream
// @Success      200 {string} string "SSE stream"
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      503 {object} dto.Response{error=dto.ErrorInfo}
// @Security     BearerAuth
// @Router       /entitlement/stream [get]
func (h *EntitlementStreamHandler) Stream(c *gin.Context) {
	identity, ok := h.currentIdentity(c)
	if !ok {
		return
	}
	if h.maxClients > 0 && h.ClientCount() >= h.maxClients {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeTooManyStreams, "Maximum number of entitlement streams reached")
		return
	}

	// Subscribe before the initial resolve so no change slips in between
	sub := h.subscriber.Subscribe(identity)
	defer sub.Close()

	reqCtx := c.Request.Context()
	initial, err := h.resolver.Resolve(reqCtx, identity)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	client := &streamClient{
		id:     uuid.NewString(),
		userID: identity.UserID.String(),
		done:   make(chan struct{}),
	}
	h.clients.Store(client.id, client)
	h.count.Add(1)
	defer func() {
		h.clients.Delete(client.id)
		h.count.Add(-1)
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	// The server write timeout would otherwise cut long-lived streams
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})
	c.Status(http.StatusOK)

	log := h.logger.With(zap.String("client_id", client.id), zap.String("user_id", client.userID))
	log.Info("Entitlement stream connected")

	h.send(c.Writer, sseMessage{
		Event: StreamEventConnected,
		Data:  fmt.Sprintf(`{"client_id":%q,"timestamp":%d}`, client.id, time.Now().Unix()),
	})
	h.sendUpdate(c.Writer, identity, appentitlement.Update{State: initial, Reason: "initial"})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-reqCtx.Done():
			log.Info("Entitlement stream disconnected (request context done)")
			return
		case <-client.done:
			log.Info("Entitlement stream disconnected (handler stopped)")
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.send(c.Writer, sseMessage{
				Event: StreamEventHeartbeat,
				Data:  fmt.Sprintf(`{"timestamp":%d}`, time.Now().Unix()),
			})
		case update, ok := <-sub.C:
			if !ok {
				h.send(c.Writer, sseMessage{Event: StreamEventSessionEnded, Data: `{}`})
				log.Info("Entitlement stream closed (session ended)")
				return
			}
			h.sendUpdate(c.Writer, identity, update)
		}
	}
}

func (h *EntitlementStreamHandler) sendUpdate(w gin.ResponseWriter, identity entitlement.Identity, u appentitlement.Update) {
	state := toStateResponse(identity, u.State)

	guard := entitlement.NewGuard()
	guard.ObserveIdentity(&identity)
	guard.ObserveResolution(u.State)

	data, err := json.Marshal(StreamEvent{
		Reason:   string(u.Reason),
		State:    state,
		Decision: guard.Decide(entitlement.RouteEntitled).String(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal stream event", zap.Error(err))
		return
	}
	h.send(w, sseMessage{
		Event: StreamEventEntitlement,
		Data:  string(data),
		ID:    fmt.Sprintf("%d", h.seq.Add(1)),
	})
}

func (h *EntitlementStreamHandler) send(w gin.ResponseWriter, msg sseMessage) {
	writeEvent(w, msg)
	w.Flush()
}

// writeEvent writes one SSE frame
func writeEvent(w io.Writer, msg sseMessage) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	if msg.ID != "" {
		fmt.Fprintf(w, "id: %s\n", msg.ID)
	}
	fmt.Fprintf(w, "data: %s\n\n", msg.Data)
}
