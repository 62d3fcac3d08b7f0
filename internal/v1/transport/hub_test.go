package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/matchpoint/internal/v1/config"
	"github.com/driftlabs/matchpoint/internal/v1/protocol"
	"github.com/driftlabs/matchpoint/internal/v1/ratelimit"
	"github.com/driftlabs/matchpoint/internal/v1/registry"
	"github.com/driftlabs/matchpoint/internal/v1/topology"
	"github.com/driftlabs/matchpoint/internal/v1/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// denyAll rejects every connection request.
type denyAll struct{}

func (denyAll) Allow(_ types.ConnectionRequest) bool { return false }

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	router := gin.New()
	router.GET("/", hub.ServeWs)
	router.GET("/:room", hub.ServeWs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newDefaultHub(t *testing.T) (*Hub, *registry.State) {
	t.Helper()
	state := registry.NewState()
	topo := topology.New(state)
	return NewHub(state, topo, nil, nil, nil), state
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent blocks for one server event with a bounded deadline.
func readEvent(t *testing.T, conn *websocket.Conn) protocol.SignalEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	event, err := protocol.DecodeSignalEvent(frame)
	require.NoError(t, err)
	return event
}

func assertNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func writeRequest(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// handshake reads the events every fresh session sees and returns the
// assigned peer identity.
func handshakeHost(t *testing.T, conn *websocket.Conn, wantRoom string) protocol.PeerID {
	t.Helper()
	idEvent := readEvent(t, conn)
	require.NotNil(t, idEvent.Peer)
	require.NotNil(t, idEvent.Peer.IdAssigned)

	opened := readEvent(t, conn)
	require.NotNil(t, opened.RoomOpened)
	if wantRoom != "" {
		assert.Equal(t, wantRoom, *opened.RoomOpened)
	}

	status := readEvent(t, conn)
	require.NotNil(t, status.HostStatus)
	assert.True(t, *status.HostStatus)

	return *idEvent.Peer.IdAssigned
}

func handshakeGuest(t *testing.T, conn *websocket.Conn) protocol.PeerID {
	t.Helper()
	idEvent := readEvent(t, conn)
	require.NotNil(t, idEvent.Peer)
	require.NotNil(t, idEvent.Peer.IdAssigned)

	status := readEvent(t, conn)
	require.NotNil(t, status.HostStatus)
	assert.False(t, *status.HostStatus)

	return *idEvent.Peer.IdAssigned
}

func TestServeWs_FirstPeerOpensRoom(t *testing.T) {
	hub, state := newDefaultHub(t)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "/alpha")
	hostID := handshakeHost(t, conn, "alpha")

	assert.True(t, state.IsPeerHost(hostID, "alpha"))
	assert.Equal(t, 1, state.PeerCount())
}

func TestServeWs_EmptyPathGeneratesRoom(t *testing.T) {
	hub, _ := newDefaultHub(t)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "/")
	idEvent := readEvent(t, conn)
	require.NotNil(t, idEvent.Peer)
	require.NotNil(t, idEvent.Peer.IdAssigned)

	opened := readEvent(t, conn)
	require.NotNil(t, opened.RoomOpened)
	_, err := uuid.Parse(*opened.RoomOpened)
	assert.NoError(t, err, "generated room id should be a canonical UUID")

	status := readEvent(t, conn)
	require.NotNil(t, status.HostStatus)
	assert.True(t, *status.HostStatus)
}

func TestServeWs_GuestJoinAnnouncedToHost(t *testing.T) {
	hub, _ := newDefaultHub(t)
	srv := newTestServer(t, hub)

	hostConn := dial(t, srv, "/alpha")
	handshakeHost(t, hostConn, "alpha")

	guestConn := dial(t, srv, "/alpha")
	guestID := handshakeGuest(t, guestConn)

	newPeer := readEvent(t, hostConn)
	require.NotNil(t, newPeer.Peer)
	require.NotNil(t, newPeer.Peer.NewPeer)
	assert.Equal(t, guestID, *newPeer.Peer.NewPeer)
}

func TestServeWs_SignalRelay(t *testing.T) {
	hub, _ := newDefaultHub(t)
	srv := newTestServer(t, hub)

	hostConn := dial(t, srv, "/alpha")
	hostID := handshakeHost(t, hostConn, "alpha")

	guestConn := dial(t, srv, "/alpha")
	guestID := handshakeGuest(t, guestConn)
	readEvent(t, hostConn) // NewPeer

	writeRequest(t, guestConn, `{"Signal":{"receiver":"`+string(hostID)+`","data":{"Offer":"sdp-offer"}}}`)

	relayed := readEvent(t, hostConn)
	require.NotNil(t, relayed.Peer)
	require.NotNil(t, relayed.Peer.Signal)
	assert.Equal(t, guestID, relayed.Peer.Signal.Sender)
	assert.Equal(t, protocol.SignalOffer, relayed.Peer.Signal.Data.Kind)
	assert.Equal(t, "sdp-offer", relayed.Peer.Signal.Data.Payload)

	// Relay is point-to-point; the sender hears nothing back.
	assertNoEvent(t, guestConn)
}

func TestServeWs_KeepAliveAndUnknownReceiver(t *testing.T) {
	hub, _ := newDefaultHub(t)
	srv := newTestServer(t, hub)

	hostConn := dial(t, srv, "/alpha")
	handshakeHost(t, hostConn, "alpha")

	writeRequest(t, hostConn, `{"KeepAlive":null}`)
	writeRequest(t, hostConn, `"KeepAlive"`)
	writeRequest(t, hostConn, `{"Signal":{"receiver":"`+protocol.NewPeerID().String()+`","data":{"Answer":"x"}}}`)
	writeRequest(t, hostConn, `garbage`)

	// None of these produce a response or end the session.
	assertNoEvent(t, hostConn)
	writeRequest(t, hostConn, `{"KeepAlive":null}`)
}

func TestServeWs_GuestDisconnectNotifiesHost(t *testing.T) {
	hub, state := newDefaultHub(t)
	srv := newTestServer(t, hub)

	hostConn := dial(t, srv, "/alpha")
	handshakeHost(t, hostConn, "alpha")

	guestConn := dial(t, srv, "/alpha")
	guestID := handshakeGuest(t, guestConn)
	readEvent(t, hostConn) // NewPeer

	require.NoError(t, guestConn.Close())

	left := readEvent(t, hostConn)
	require.NotNil(t, left.Peer)
	require.NotNil(t, left.Peer.PeerLeft)
	assert.Equal(t, guestID, *left.Peer.PeerLeft)

	require.Eventually(t, func() bool { return state.PeerCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, state.RoomCount())
}

func TestServeWs_HostDisconnectClosesRoom(t *testing.T) {
	hub, state := newDefaultHub(t)
	srv := newTestServer(t, hub)

	hostConn := dial(t, srv, "/alpha")
	hostID := handshakeHost(t, hostConn, "alpha")

	guestConn := dial(t, srv, "/alpha")
	handshakeGuest(t, guestConn)
	readEvent(t, hostConn) // NewPeer

	require.NoError(t, hostConn.Close())

	left := readEvent(t, guestConn)
	require.NotNil(t, left.Peer)
	require.NotNil(t, left.Peer.PeerLeft)
	assert.Equal(t, hostID, *left.Peer.PeerLeft)

	closed := readEvent(t, guestConn)
	assert.True(t, closed.RoomClosed)

	require.Eventually(t, func() bool { return state.RoomCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	// The name is free again; the next joiner hosts a fresh room.
	rehostConn := dial(t, srv, "/alpha")
	rehostID := handshakeHost(t, rehostConn, "alpha")
	assert.True(t, state.IsPeerHost(rehostID, "alpha"))
}

func TestServeWs_PolicyRejected(t *testing.T) {
	state := registry.NewState()
	topo := topology.New(state)
	hub := NewHub(state, topo, denyAll{}, nil, nil)
	srv := newTestServer(t, hub)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/alpha"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, state.WaitingCount())
	assert.Equal(t, 0, state.PeerCount())
}

func TestServeWs_OriginRejected(t *testing.T) {
	state := registry.NewState()
	topo := topology.New(state)
	hub := NewHub(state, topo, nil, nil, []string{"https://app.example.com"})
	srv := newTestServer(t, hub)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/alpha"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, state.WaitingCount())
}

func TestServeWs_OriginAllowed(t *testing.T) {
	state := registry.NewState()
	topo := topology.New(state)
	hub := NewHub(state, topo, nil, nil, []string{"https://app.example.com"})
	srv := newTestServer(t, hub)

	header := http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/alpha"), header)
	require.NoError(t, err)
	defer conn.Close()
	handshakeHost(t, conn, "alpha")
}

func TestServeWs_RateLimited(t *testing.T) {
	limiter, err := ratelimit.New(&config.Config{RateLimitWsIP: "2-M"}, nil)
	require.NoError(t, err)

	state := registry.NewState()
	topo := topology.New(state)
	hub := NewHub(state, topo, nil, limiter, nil)
	srv := newTestServer(t, hub)

	dial(t, srv, "/alpha")
	dial(t, srv, "/alpha")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/alpha"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Retry-After"))
}

func TestHub_Shutdown(t *testing.T) {
	hub, state := newDefaultHub(t)
	srv := newTestServer(t, hub)

	hostConn := dial(t, srv, "/alpha")
	handshakeHost(t, hostConn, "alpha")
	guestConn := dial(t, srv, "/alpha")
	handshakeGuest(t, guestConn)

	require.NoError(t, hub.Shutdown(t.Context()))

	require.Eventually(t, func() bool {
		return state.PeerCount() == 0 && state.RoomCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
