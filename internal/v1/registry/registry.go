// Package registry holds the authoritative server state: the waiting and
// queue registries used during matchmaking, and the active registry of
// live peers and rooms.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftlabs/matchpoint/internal/v1/logging"
	"github.com/driftlabs/matchpoint/internal/v1/metrics"
	"github.com/driftlabs/matchpoint/internal/v1/protocol"
	"github.com/driftlabs/matchpoint/internal/v1/types"
)

var (
	// ErrUnknownPeer is returned by TrySend when no peer with the given
	// id is registered.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNoWaitingClient signals a missing waiting entry at id
	// assignment. This is a logic error, not a peer fault.
	ErrNoWaitingClient = errors.New("no waiting client for origin")

	// ErrNoQueuedPeer signals a missing queue entry at session start.
	// This is a logic error, not a peer fault.
	ErrNoQueuedPeer = errors.New("no queued peer")
)

// Peer is a live entry in the active registry. The Sender endpoint is
// exclusively owned by the registry and reachable only through TrySend.
type Peer struct {
	ID            protocol.PeerID
	RequestedRoom types.RequestedRoom
	Room          types.RoomID
	Sender        types.FrameSender
}

// Room tracks one rendezvous room. The host is pinned to the first peer
// that joined; when the host leaves, the room dies.
type Room struct {
	ID    types.RoomID
	Peers map[protocol.PeerID]struct{}
	Host  protocol.PeerID
}

// PeerInfo is a sender-free snapshot of a Peer, safe to hand outside the
// registry lock.
type PeerInfo struct {
	ID            protocol.PeerID
	RequestedRoom types.RequestedRoom
	Room          types.RoomID
}

// RoomInfo is a snapshot of a Room taken at removal time.
type RoomInfo struct {
	ID    types.RoomID
	Host  protocol.PeerID
	Peers []protocol.PeerID
}

// State is the shared server state. The waiting and queue registries are
// guarded independently; peers and rooms share one mutex so that compound
// operations (AddPeer, RemoveRoom) are a single critical section. No
// network I/O happens while any lock is held: TrySend enqueues but never
// writes to a socket.
type State struct {
	waitingMu sync.Mutex
	waiting   map[string]types.RequestedRoom

	queueMu sync.Mutex
	queue   map[protocol.PeerID]types.RequestedRoom

	mu    sync.Mutex
	peers map[protocol.PeerID]*Peer
	rooms map[types.RoomID]*Room
}

// NewState creates an empty server state.
func NewState() *State {
	return &State{
		waiting: make(map[string]types.RequestedRoom),
		queue:   make(map[protocol.PeerID]types.RequestedRoom),
		peers:   make(map[protocol.PeerID]*Peer),
		rooms:   make(map[types.RoomID]*Room),
	}
}

// AddWaitingClient records the requested room for a connection that has
// been accepted but not yet assigned an identity.
func (s *State) AddWaitingClient(origin string, room types.RequestedRoom) {
	s.waitingMu.Lock()
	defer s.waitingMu.Unlock()
	s.waiting[origin] = room
}

// DropWaitingClient discards a waiting entry, e.g. when the socket
// upgrade fails before an identity was assigned.
func (s *State) DropWaitingClient(origin string) {
	s.waitingMu.Lock()
	defer s.waitingMu.Unlock()
	delete(s.waiting, origin)
}

// AssignIDToWaitingClient moves a connection from the waiting registry to
// the queue registry under its freshly minted identity.
func (s *State) AssignIDToWaitingClient(origin string, id protocol.PeerID) error {
	s.waitingMu.Lock()
	room, ok := s.waiting[origin]
	if ok {
		delete(s.waiting, origin)
	}
	s.waitingMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoWaitingClient, origin)
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue[id] = room
	return nil
}

// RemoveWaitingPeer drains the queue entry for a peer whose session is
// starting, returning its requested room.
func (s *State) RemoveWaitingPeer(id protocol.PeerID) (types.RequestedRoom, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	room, ok := s.queue[id]
	if !ok {
		return types.RequestedRoom{}, fmt.Errorf("%w: %s", ErrNoQueuedPeer, id)
	}
	delete(s.queue, id)
	return room, nil
}

// AddPeer places a peer into its room, creating the room (with this peer
// as host) if it does not exist. When the peer requested no room, a fresh
// UUID room id is generated. Returns the resolved room id.
func (s *State) AddPeer(peer *Peer) types.RoomID {
	roomID := peer.RequestedRoom.ID
	if roomID == "" {
		roomID = types.RoomID(uuid.NewString())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = &Room{
			ID:    roomID,
			Peers: make(map[protocol.PeerID]struct{}),
			Host:  peer.ID,
		}
		s.rooms[roomID] = room
		metrics.ActiveRooms.Inc()
	}
	room.Peers[peer.ID] = struct{}{}
	peer.Room = roomID
	s.peers[peer.ID] = peer
	metrics.RoomParticipants.WithLabelValues(string(roomID)).Inc()
	return roomID
}

// GetPeer returns a snapshot of a live peer.
func (s *State) GetPeer(id protocol.PeerID) (PeerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	return snapshotPeer(peer), true
}

// GetRoomPeers returns the current members of a room, or nil if the room
// does not exist.
func (s *State) GetRoomPeers(roomID types.RoomID) []protocol.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]protocol.PeerID, 0, len(room.Peers))
	for id := range room.Peers {
		members = append(members, id)
	}
	return members
}

// GetRoomHostPeer returns the host of a room, if the room exists.
func (s *State) GetRoomHostPeer(roomID types.RoomID) (protocol.PeerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return "", false
	}
	return room.Host, true
}

// IsPeerHost reports whether the peer is the host of the given room.
// Returns false if either does not exist.
func (s *State) IsPeerHost(id protocol.PeerID, roomID types.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	return ok && room.Host == id
}

// RemovePeer deletes a peer from the active registry and from its room's
// member set. The room itself is left in place even if the peer was its
// host; host-removal policy belongs to the session layer.
func (s *State) RemovePeer(id protocol.PeerID) (PeerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.peers[id]
	if !ok {
		return PeerInfo{}, false
	}
	delete(s.peers, id)

	if peer.Room != "" {
		if room, ok := s.rooms[peer.Room]; ok {
			delete(room.Peers, id)
		}
		metrics.RoomParticipants.WithLabelValues(string(peer.Room)).Dec()
	}
	return snapshotPeer(peer), true
}

// RemoveRoom deletes a room and clears the room attribute of any
// still-registered peers that pointed at it.
func (s *State) RemoveRoom(roomID types.RoomID) (RoomInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	delete(s.rooms, roomID)

	info := RoomInfo{ID: room.ID, Host: room.Host}
	for id := range room.Peers {
		info.Peers = append(info.Peers, id)
	}
	for _, peer := range s.peers {
		if peer.Room == roomID {
			peer.Room = ""
		}
	}

	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(roomID))
	return info, true
}

// TrySend enqueues a frame on a peer's send endpoint without blocking.
// Fails with ErrUnknownPeer if the peer is not registered, or with the
// endpoint's error if the enqueue is rejected.
func (s *State) TrySend(id protocol.PeerID, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer, ok := s.peers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	if err := peer.Sender.TrySend(frame); err != nil {
		return fmt.Errorf("send to %s: %w", id, err)
	}
	return nil
}

// PeerCount returns the number of live peers.
func (s *State) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// RoomCount returns the number of live rooms.
func (s *State) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// WaitingCount returns the number of entries in the waiting registry.
func (s *State) WaitingCount() int {
	s.waitingMu.Lock()
	defer s.waitingMu.Unlock()
	return len(s.waiting)
}

// QueueCount returns the number of entries in the queue registry.
func (s *State) QueueCount() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// InQueue reports whether a peer currently sits in the queue registry.
func (s *State) InQueue(id protocol.PeerID) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	_, ok := s.queue[id]
	return ok
}

// Shutdown disconnects every live peer. Endpoints are snapshotted under
// the lock and closed outside it; each session then runs its normal
// disconnect policy as its read loop ends.
func (s *State) Shutdown(ctx context.Context) {
	s.mu.Lock()
	senders := make([]types.FrameSender, 0, len(s.peers))
	for _, peer := range s.peers {
		senders = append(senders, peer.Sender)
	}
	s.mu.Unlock()

	for _, sender := range senders {
		sender.Disconnect()
	}
	logging.Info(ctx, "Disconnected all peers", zap.Int("count", len(senders)))
}

func snapshotPeer(p *Peer) PeerInfo {
	return PeerInfo{ID: p.ID, RequestedRoom: p.RequestedRoom, Room: p.Room}
}
