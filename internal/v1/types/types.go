// Package types holds the small domain types and interfaces shared by the
// registry, topology, and transport packages.
package types

// RoomID identifies a rendezvous room. Room ids come either from the
// connection path or are generated as UUID text when no room is requested.
type RoomID string

// RequestedRoom carries a client's room preference from accept time to
// peer placement. The zero value means "no preference, open a new room".
type RequestedRoom struct {
	ID RoomID
}

// IsSet reports whether the client asked for a specific room.
func (r RequestedRoom) IsSet() bool {
	return r.ID != ""
}

// FrameSender is the send endpoint for one connected peer. TrySend must
// enqueue without blocking on network I/O; Disconnect closes the endpoint
// and is safe to call more than once.
//
// The endpoint is owned by the active registry. Callers must not retain it
// across registry mutations; all routing goes through the registry.
type FrameSender interface {
	TrySend(frame []byte) error
	Disconnect()
}

// ConnectionRequest describes an incoming connection before it is admitted
// to matchmaking.
type ConnectionRequest struct {
	Origin string
	Room   RequestedRoom
}

// AdmissionPolicy decides whether an incoming connection may join
// matchmaking. Rejection happens before the socket upgrade.
type AdmissionPolicy interface {
	Allow(req ConnectionRequest) bool
}

// AllowAll is the default policy: every connecting client is admitted.
type AllowAll struct{}

func (AllowAll) Allow(ConnectionRequest) bool { return true }
