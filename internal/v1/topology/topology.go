// Package topology implements the star matchmaking policy: the first peer
// to join a room becomes its host, guests announce themselves to the host,
// signals are relayed point-to-point, and a departing host tears the whole
// room down.
package topology

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/driftlabs/matchpoint/internal/v1/logging"
	"github.com/driftlabs/matchpoint/internal/v1/metrics"
	"github.com/driftlabs/matchpoint/internal/v1/protocol"
	"github.com/driftlabs/matchpoint/internal/v1/registry"
	"github.com/driftlabs/matchpoint/internal/v1/types"
)

// Client is the view of a connected session the topology needs: its
// identity, its send endpoint, and a way to terminate it on logic errors.
type Client interface {
	PeerID() protocol.PeerID
	types.FrameSender
}

// Topology drives the session state machine over the shared registry. One
// instance serves all sessions; all shared state lives in the registry.
type Topology struct {
	state *registry.State
}

// New creates a Topology over the given server state.
func New(state *registry.State) *Topology {
	return &Topology{state: state}
}

// HandleClientConnect moves a queued peer into its room and emits the join
// events. For a new room the host receives RoomOpened then HostStatus(true);
// for an existing room the host is told NewPeer and the joiner receives
// HostStatus(false). The order of the two self-directed events is observable
// to clients and must not change.
func (t *Topology) HandleClientConnect(ctx context.Context, client Client) {
	peerID := client.PeerID()
	ctx = logging.WithPeer(ctx, string(peerID))

	requested, err := t.state.RemoveWaitingPeer(peerID)
	if err != nil {
		// Double assignment or a session started before id assignment.
		// This is a server bug, not a peer fault; end the session.
		logging.Error(ctx, "No queue entry at session start", zap.Error(err))
		client.Disconnect()
		return
	}

	roomID := t.state.AddPeer(&registry.Peer{
		ID:            peerID,
		RequestedRoom: requested,
		Sender:        client,
	})
	ctx = logging.WithRoom(ctx, string(roomID))

	if t.state.IsPeerHost(peerID, roomID) {
		// New room, this peer is the host.
		t.send(ctx, peerID, protocol.RoomOpenedEvent(string(roomID)))
		t.send(ctx, peerID, protocol.HostStatusEvent(true))
		return
	}

	// Existing room: tell the host we've joined.
	if hostID, ok := t.state.GetRoomHostPeer(roomID); ok {
		t.send(ctx, hostID, protocol.NewPeerEventFrame(peerID))
	} else {
		logging.Error(ctx, "Room has no host", zap.String("roomId", string(roomID)))
	}
	t.send(ctx, peerID, protocol.HostStatusEvent(false))
}

// HandleFrame processes one inbound text frame from a peer. Malformed
// frames are logged and dropped; Signal frames are relayed best-effort to
// their receiver; KeepAlive frames are discarded.
func (t *Topology) HandleFrame(ctx context.Context, client Client, frame []byte) {
	peerID := client.PeerID()
	ctx = logging.WithPeer(ctx, string(peerID))

	request, err := protocol.DecodePeerRequest(frame)
	if err != nil {
		metrics.InboundFrames.WithLabelValues("malformed").Inc()
		logging.Warn(ctx, "Dropping malformed frame", zap.Error(err))
		return
	}

	switch {
	case request.Signal != nil:
		metrics.InboundFrames.WithLabelValues("signal").Inc()
		event := protocol.ForwardSignalEvent(peerID, request.Signal.Data)
		if err := t.trySend(request.Signal.Receiver, event); err != nil {
			if errors.Is(err, registry.ErrUnknownPeer) {
				logging.Warn(ctx, "Signal receiver not found, ignoring",
					zap.String("receiver", string(request.Signal.Receiver)))
			} else {
				logging.Error(ctx, "Failed to relay signal", zap.Error(err))
			}
			metrics.SignalingEvents.WithLabelValues("signal", "dropped").Inc()
			return
		}
		metrics.SignalingEvents.WithLabelValues("signal", "sent").Inc()
	case request.KeepAlive:
		// KeepAlive frames exist to stop middleboxes from timing out
		// idle connections. Nothing to do.
		metrics.InboundFrames.WithLabelValues("keep_alive").Inc()
	}
}

// HandleClientDisconnect removes a peer and applies the departure policy:
// a departing host means PeerLeft then RoomClosed to every surviving
// member and the room is deleted; a departing guest is announced to the
// host only. Every send is best-effort and independent of the others.
func (t *Topology) HandleClientDisconnect(ctx context.Context, client Client) {
	peerID := client.PeerID()
	ctx = logging.WithPeer(ctx, string(peerID))
	logging.Info(ctx, "Removing peer")

	removed, ok := t.state.RemovePeer(peerID)
	if !ok {
		logging.Error(ctx, "Peer was not registered at disconnect")
		return
	}
	if removed.Room == "" {
		logging.Warn(ctx, "Peer was not in any room")
		return
	}
	roomID := removed.Room
	ctx = logging.WithRoom(ctx, string(roomID))

	if t.state.IsPeerHost(peerID, roomID) {
		// Host left: notify the survivors, then delete the room. The
		// member snapshot is taken before the room is destroyed.
		others := make([]protocol.PeerID, 0)
		for _, other := range t.state.GetRoomPeers(roomID) {
			if other != peerID {
				others = append(others, other)
			}
		}

		for _, other := range others {
			t.send(ctx, other, protocol.PeerLeftEvent(peerID))
		}
		for _, other := range others {
			t.send(ctx, other, protocol.RoomClosedEvent())
		}

		if _, ok := t.state.RemoveRoom(roomID); ok {
			logging.Info(ctx, "Room closed after host departure",
				zap.Int("survivors", len(others)))
		}
		return
	}

	// Guest left: only the host is told. The host propagates guest
	// departures to the rest of the room over its own signaling.
	if hostID, ok := t.state.GetRoomHostPeer(roomID); ok {
		t.send(ctx, hostID, protocol.PeerLeftEvent(peerID))
	} else {
		logging.Error(ctx, "No host found for room at guest departure")
	}
}

// send encodes and delivers one event best-effort, recording the outcome.
// A failure never affects the caller's progression.
func (t *Topology) send(ctx context.Context, to protocol.PeerID, event protocol.SignalEvent) {
	if err := t.trySend(to, event); err != nil {
		metrics.SignalingEvents.WithLabelValues(event.EventType(), "dropped").Inc()
		logging.Error(ctx, "Failed to send event",
			zap.String("eventType", event.EventType()),
			zap.String("to", string(to)),
			zap.Error(err))
		return
	}
	metrics.SignalingEvents.WithLabelValues(event.EventType(), "sent").Inc()
}

func (t *Topology) trySend(to protocol.PeerID, event protocol.SignalEvent) error {
	frame, err := event.Encode()
	if err != nil {
		return err
	}
	return t.state.TrySend(to, frame)
}
