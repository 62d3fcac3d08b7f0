// Package protocol defines the wire messages exchanged between peers and
// the signaling server. Every frame is a single JSON object with exactly
// one variant key, e.g. {"Signal":{...}} or {"KeepAlive":null}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PeerID is the opaque identity the server assigns to each connection,
// rendered as a canonical UUID string. IDs are never reused.
type PeerID string

// NewPeerID mints a fresh unpredictable peer identity.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

// ParsePeerID validates that s is a canonical UUID.
func ParsePeerID(s string) (PeerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid peer id %q: %w", s, err)
	}
	return PeerID(u.String()), nil
}

// UnmarshalJSON rejects anything that is not a canonical UUID string.
func (id *PeerID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePeerID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id PeerID) String() string { return string(id) }

// SignalKind enumerates the peer-to-peer payload variants relayed by the
// server. The server never inspects the payload string itself.
type SignalKind string

const (
	SignalIceCandidate SignalKind = "IceCandidate"
	SignalOffer        SignalKind = "Offer"
	SignalAnswer       SignalKind = "Answer"
)

// PeerSignal is a single session-description or network-candidate record.
// On the wire it is {"Offer":"<sdp>"} and friends.
type PeerSignal struct {
	Kind    SignalKind
	Payload string
}

func (s PeerSignal) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SignalIceCandidate, SignalOffer, SignalAnswer:
	default:
		return nil, fmt.Errorf("unknown signal kind %q", s.Kind)
	}
	return json.Marshal(map[string]string{string(s.Kind): s.Payload})
}

func (s *PeerSignal) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return errors.New("signal must carry exactly one variant")
	}
	for k, v := range m {
		switch SignalKind(k) {
		case SignalIceCandidate, SignalOffer, SignalAnswer:
			s.Kind = SignalKind(k)
			s.Payload = v
			return nil
		default:
			return fmt.Errorf("unknown signal kind %q", k)
		}
	}
	return nil
}

// SignalTarget addresses a PeerSignal at a specific recipient.
type SignalTarget struct {
	Receiver PeerID     `json:"receiver"`
	Data     PeerSignal `json:"data"`
}

// PeerRequest is a frame travelling peer -> server. Exactly one field is
// set.
type PeerRequest struct {
	Signal    *SignalTarget
	KeepAlive bool
}

func (r PeerRequest) MarshalJSON() ([]byte, error) {
	switch {
	case r.Signal != nil:
		return json.Marshal(struct {
			Signal *SignalTarget `json:"Signal"`
		}{r.Signal})
	case r.KeepAlive:
		return []byte(`{"KeepAlive":null}`), nil
	default:
		return nil, errors.New("empty peer request")
	}
}

func (r *PeerRequest) UnmarshalJSON(b []byte) error {
	// Unit variants may arrive as a bare string.
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "KeepAlive" {
			*r = PeerRequest{KeepAlive: true}
			return nil
		}
		return fmt.Errorf("unknown request variant %q", s)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return errors.New("request must carry exactly one variant")
	}
	for k, v := range m {
		switch k {
		case "Signal":
			var target SignalTarget
			if err := json.Unmarshal(v, &target); err != nil {
				return fmt.Errorf("malformed signal request: %w", err)
			}
			*r = PeerRequest{Signal: &target}
		case "KeepAlive":
			*r = PeerRequest{KeepAlive: true}
		default:
			return fmt.Errorf("unknown request variant %q", k)
		}
	}
	return nil
}

// DecodePeerRequest parses a single inbound text frame.
func DecodePeerRequest(frame []byte) (PeerRequest, error) {
	var r PeerRequest
	if err := json.Unmarshal(frame, &r); err != nil {
		return PeerRequest{}, err
	}
	return r, nil
}

// Encode renders the request as a text frame.
func (r PeerRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// ForwardedSignal is a relayed PeerSignal stamped with its sender.
type ForwardedSignal struct {
	Sender PeerID     `json:"sender"`
	Data   PeerSignal `json:"data"`
}

// PeerEvent is the peer-scoped half of the server -> peer event space.
// Exactly one field is set.
type PeerEvent struct {
	IdAssigned *PeerID
	NewPeer    *PeerID
	PeerLeft   *PeerID
	Signal     *ForwardedSignal
}

func (e PeerEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.IdAssigned != nil:
		return json.Marshal(map[string]PeerID{"IdAssigned": *e.IdAssigned})
	case e.NewPeer != nil:
		return json.Marshal(map[string]PeerID{"NewPeer": *e.NewPeer})
	case e.PeerLeft != nil:
		return json.Marshal(map[string]PeerID{"PeerLeft": *e.PeerLeft})
	case e.Signal != nil:
		return json.Marshal(struct {
			Signal *ForwardedSignal `json:"Signal"`
		}{e.Signal})
	default:
		return nil, errors.New("empty peer event")
	}
}

func (e *PeerEvent) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return errors.New("peer event must carry exactly one variant")
	}
	for k, v := range m {
		switch k {
		case "IdAssigned", "NewPeer", "PeerLeft":
			var id PeerID
			if err := json.Unmarshal(v, &id); err != nil {
				return fmt.Errorf("malformed %s event: %w", k, err)
			}
			switch k {
			case "IdAssigned":
				*e = PeerEvent{IdAssigned: &id}
			case "NewPeer":
				*e = PeerEvent{NewPeer: &id}
			case "PeerLeft":
				*e = PeerEvent{PeerLeft: &id}
			}
		case "Signal":
			var fwd ForwardedSignal
			if err := json.Unmarshal(v, &fwd); err != nil {
				return fmt.Errorf("malformed signal event: %w", err)
			}
			*e = PeerEvent{Signal: &fwd}
		default:
			return fmt.Errorf("unknown peer event variant %q", k)
		}
	}
	return nil
}

// SignalEvent is a frame travelling server -> peer. Exactly one field is
// set; Data is reserved and never emitted by the server.
type SignalEvent struct {
	Peer       *PeerEvent
	RoomOpened *string
	RoomClosed bool
	HostStatus *bool
	Data       []byte
}

func (e SignalEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.Peer != nil:
		return json.Marshal(struct {
			Peer *PeerEvent `json:"Peer"`
		}{e.Peer})
	case e.RoomOpened != nil:
		return json.Marshal(map[string]string{"RoomOpened": *e.RoomOpened})
	case e.RoomClosed:
		return []byte(`{"RoomClosed":null}`), nil
	case e.HostStatus != nil:
		return json.Marshal(map[string]bool{"HostStatus": *e.HostStatus})
	case e.Data != nil:
		// Byte payloads are encoded as a plain JSON number array, not
		// the base64 string encoding/json would produce for []byte.
		nums := make([]int, len(e.Data))
		for i, b := range e.Data {
			nums[i] = int(b)
		}
		return json.Marshal(map[string][]int{"Data": nums})
	default:
		return nil, errors.New("empty signal event")
	}
}

func (e *SignalEvent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "RoomClosed" {
			*e = SignalEvent{RoomClosed: true}
			return nil
		}
		return fmt.Errorf("unknown event variant %q", s)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return errors.New("event must carry exactly one variant")
	}
	for k, v := range m {
		switch k {
		case "Peer":
			var pe PeerEvent
			if err := json.Unmarshal(v, &pe); err != nil {
				return err
			}
			*e = SignalEvent{Peer: &pe}
		case "RoomOpened":
			var id string
			if err := json.Unmarshal(v, &id); err != nil {
				return fmt.Errorf("malformed RoomOpened event: %w", err)
			}
			*e = SignalEvent{RoomOpened: &id}
		case "RoomClosed":
			*e = SignalEvent{RoomClosed: true}
		case "HostStatus":
			var isHost bool
			if err := json.Unmarshal(v, &isHost); err != nil {
				return fmt.Errorf("malformed HostStatus event: %w", err)
			}
			*e = SignalEvent{HostStatus: &isHost}
		case "Data":
			var nums []int
			if err := json.Unmarshal(v, &nums); err != nil {
				return fmt.Errorf("malformed Data event: %w", err)
			}
			data := make([]byte, len(nums))
			for i, n := range nums {
				if n < 0 || n > 255 {
					return fmt.Errorf("data byte %d out of range", n)
				}
				data[i] = byte(n)
			}
			*e = SignalEvent{Data: data}
		default:
			return fmt.Errorf("unknown event variant %q", k)
		}
	}
	return nil
}

// DecodeSignalEvent parses a single server -> peer text frame.
func DecodeSignalEvent(frame []byte) (SignalEvent, error) {
	var e SignalEvent
	if err := json.Unmarshal(frame, &e); err != nil {
		return SignalEvent{}, err
	}
	return e, nil
}

// Encode renders the event as a text frame.
func (e SignalEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// EventType labels the event for metrics and logging.
func (e SignalEvent) EventType() string {
	switch {
	case e.Peer != nil && e.Peer.IdAssigned != nil:
		return "id_assigned"
	case e.Peer != nil && e.Peer.NewPeer != nil:
		return "new_peer"
	case e.Peer != nil && e.Peer.PeerLeft != nil:
		return "peer_left"
	case e.Peer != nil && e.Peer.Signal != nil:
		return "signal"
	case e.RoomOpened != nil:
		return "room_opened"
	case e.RoomClosed:
		return "room_closed"
	case e.HostStatus != nil:
		return "host_status"
	case e.Data != nil:
		return "data"
	default:
		return "unknown"
	}
}

// Event constructors used by the signaling core.

func IdAssignedEvent(id PeerID) SignalEvent {
	return SignalEvent{Peer: &PeerEvent{IdAssigned: &id}}
}

func NewPeerEventFrame(id PeerID) SignalEvent {
	return SignalEvent{Peer: &PeerEvent{NewPeer: &id}}
}

func PeerLeftEvent(id PeerID) SignalEvent {
	return SignalEvent{Peer: &PeerEvent{PeerLeft: &id}}
}

func ForwardSignalEvent(sender PeerID, data PeerSignal) SignalEvent {
	return SignalEvent{Peer: &PeerEvent{Signal: &ForwardedSignal{Sender: sender, Data: data}}}
}

func RoomOpenedEvent(roomID string) SignalEvent {
	return SignalEvent{RoomOpened: &roomID}
}

func RoomClosedEvent() SignalEvent {
	return SignalEvent{RoomClosed: true}
}

func HostStatusEvent(isHost bool) SignalEvent {
	return SignalEvent{HostStatus: &isHost}
}
