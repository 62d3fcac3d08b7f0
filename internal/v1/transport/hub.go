package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftlabs/matchpoint/internal/v1/logging"
	"github.com/driftlabs/matchpoint/internal/v1/metrics"
	"github.com/driftlabs/matchpoint/internal/v1/protocol"
	"github.com/driftlabs/matchpoint/internal/v1/ratelimit"
	"github.com/driftlabs/matchpoint/internal/v1/registry"
	"github.com/driftlabs/matchpoint/internal/v1/topology"
	"github.com/driftlabs/matchpoint/internal/v1/types"
)

// Hub accepts WebSocket connections and walks each one through
// matchmaking: admission, waiting registration, upgrade, identity
// assignment, and session start. Everything after that is the topology's
// business.
type Hub struct {
	state    *registry.State
	topo     *topology.Topology
	policy   types.AdmissionPolicy
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
}

// NewHub wires the accept path. A nil limiter disables rate limiting; an
// empty origin list allows every origin.
func NewHub(state *registry.State, topo *topology.Topology, policy types.AdmissionPolicy, limiter *ratelimit.Limiter, allowedOrigins []string) *Hub {
	if policy == nil {
		policy = types.AllowAll{}
	}
	return &Hub{
		state:   state,
		topo:    topo,
		policy:  policy,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests from a configured origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeWs handles GET / and GET /:room. The optional path segment names
// the requested room; absent means a fresh auto-generated room.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return // Response already written by CheckWebSocket
	}

	ctx := c.Request.Context()
	roomParam := strings.Trim(c.Param("room"), "/")
	request := types.ConnectionRequest{
		Origin: c.Request.RemoteAddr,
		Room:   types.RequestedRoom{ID: types.RoomID(roomParam)},
	}

	if !h.policy.Allow(request) {
		c.JSON(http.StatusForbidden, gin.H{"error": "connection rejected"})
		return
	}

	h.state.AddWaitingClient(request.Origin, request.Room)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.state.DropWaitingClient(request.Origin)
		logging.Warn(ctx, "WebSocket upgrade failed", zap.Error(err))
		return
	}

	peerID := protocol.NewPeerID()
	logging.Info(ctx, "Client connected",
		zap.String("origin", request.Origin),
		zap.String("peerId", string(peerID)),
		zap.String("requestedRoom", roomParam))

	if err := h.state.AssignIDToWaitingClient(request.Origin, peerID); err != nil {
		logging.Error(ctx, "Identity assignment failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	client := NewClient(conn, peerID, h.topo)

	// IdAssigned is the first event every session observes; it is
	// enqueued before the pumps start, ahead of any join events.
	if frame, err := protocol.IdAssignedEvent(peerID).Encode(); err == nil {
		if err := client.TrySend(frame); err != nil {
			logging.Error(ctx, "Failed to enqueue IdAssigned", zap.Error(err))
		} else {
			metrics.SignalingEvents.WithLabelValues("id_assigned", "sent").Inc()
		}
	}

	metrics.IncConnection()
	h.topo.HandleClientConnect(ctx, client)

	go client.writePump()
	go client.readPump()
}

// Shutdown disconnects every live session. Each read loop then runs its
// regular disconnect policy before the process exits.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down hub - disconnecting all peers...")
	h.state.Shutdown(ctx)
	return nil
}
