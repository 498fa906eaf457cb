package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercord/internal/core/domain"
	"peercord/internal/infrastructure/repositories/memory"
)

const testSDP = "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

type countingMetrics struct {
	mu       sync.Mutex
	opened   int
	closed   int
	routed   map[string]int
	rejected map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{routed: map[string]int{}, rejected: map[string]int{}}
}

func (m *countingMetrics) ConnectionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *countingMetrics) ConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *countingMetrics) MessageRouted(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routed[t]++
}

func (m *countingMetrics) MessageRejected(r string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[r]++
}

type stubVerifier map[domain.PeerID]string

func (v stubVerifier) VerifyIdentity(token string, id domain.PeerID) error {
	if v[id] != token {
		return assert.AnError
	}
	return nil
}

type testBroker struct {
	server  *WebSocketServer
	http    *httptest.Server
	metrics *countingMetrics
}

func newTestBroker(t *testing.T, opts Options, verifier TokenVerifier) *testBroker {
	metrics := newCountingMetrics()
	server := NewWebSocketServer(memory.NewMemoryPeerDirectory(), verifier, metrics, opts, zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return &testBroker{server: server, http: ts, metrics: metrics}
}

func (b *testBroker) dial(t *testing.T, query string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(b.http.URL, "http") + "/ws?" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func (b *testBroker) register(t *testing.T, id string) *websocket.Conn {
	conn, _, err := b.dial(t, "peer_id="+id)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, TypeOpen, read(t, conn).Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType string, to domain.PeerID, payload interface{}) {
	t.Helper()
	msg, err := NewMessage(msgType, to, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func TestBroker_RoutesOfferAndAnswer(t *testing.T) {
	b := newTestBroker(t, DefaultOptions(), nil)
	alice := b.register(t, "alice-1")
	bob := b.register(t, "bob-2")

	offer := SessionPayload{ConnectionID: "c1", ConnectionType: ConnectionData, SDP: testSDP}
	send(t, alice, TypeOffer, "bob-2", offer)

	got := read(t, bob)
	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, domain.PeerID("alice-1"), got.From)
	var payload SessionPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, offer, payload)

	send(t, bob, TypeAnswer, "alice-1", SessionPayload{ConnectionID: "c1", ConnectionType: ConnectionData, SDP: testSDP})
	got = read(t, alice)
	assert.Equal(t, TypeAnswer, got.Type)
	assert.Equal(t, domain.PeerID("bob-2"), got.From)

	assert.ElementsMatch(t, []domain.PeerID{"alice-1", "bob-2"}, b.server.GetConnectedPeers())
	assert.Equal(t, 2, b.server.ConnectionCount())
}

func TestBroker_DuplicateIdentityRefused(t *testing.T) {
	b := newTestBroker(t, DefaultOptions(), nil)
	b.register(t, "alice-1")

	dup, _, err := b.dial(t, "peer_id=alice-1")
	require.NoError(t, err)
	defer dup.Close()

	msg := read(t, dup)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, KindUnavailableID, msg.Kind)
	assert.True(t, b.server.IsPeerConnected("alice-1"))
}

func TestBroker_UnknownTarget(t *testing.T) {
	b := newTestBroker(t, DefaultOptions(), nil)
	alice := b.register(t, "alice-1")

	send(t, alice, TypeOffer, "ghost-9", SessionPayload{ConnectionID: "c1", ConnectionType: ConnectionMedia, SDP: testSDP})

	msg := read(t, alice)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, KindPeerUnavailable, msg.Kind)
	assert.Contains(t, msg.Message, "ghost-9")
}

func TestBroker_InvalidMessages(t *testing.T) {
	b := newTestBroker(t, DefaultOptions(), nil)
	alice := b.register(t, "alice-1")
	b.register(t, "bob-2")

	for name, msg := range map[string]Message{
		"unknown type":  {Type: "teleport", To: "bob-2"},
		"spoofed from":  {Type: TypeLeave, From: "bob-2", To: "bob-2"},
		"bad sdp":       mustMessage(t, TypeOffer, "bob-2", SessionPayload{ConnectionID: "c", ConnectionType: ConnectionData, SDP: "hello"}),
		"bad conn type": mustMessage(t, TypeOffer, "bob-2", SessionPayload{ConnectionID: "c", ConnectionType: "fax", SDP: testSDP}),
	} {
		require.NoError(t, alice.WriteJSON(msg), name)
		got := read(t, alice)
		assert.Equal(t, TypeError, got.Type, name)
		assert.Equal(t, KindInvalidMessage, got.Kind, name)
	}
}

func mustMessage(t *testing.T, msgType string, to domain.PeerID, payload interface{}) Message {
	msg, err := NewMessage(msgType, to, payload)
	require.NoError(t, err)
	return msg
}

func TestBroker_RateLimited(t *testing.T) {
	opts := DefaultOptions()
	opts.MessagesPerSecond = 0.001
	opts.Burst = 1
	b := newTestBroker(t, opts, nil)
	alice := b.register(t, "alice-1")
	bob := b.register(t, "bob-2")

	send(t, alice, TypeLeave, "bob-2", nil)
	assert.Equal(t, TypeLeave, read(t, bob).Type)

	send(t, alice, TypeLeave, "bob-2", nil)
	msg := read(t, alice)
	assert.Equal(t, KindRateLimited, msg.Kind)
}

func TestBroker_TokenRequired(t *testing.T) {
	b := newTestBroker(t, DefaultOptions(), stubVerifier{"alice-1": "good"})

	_, resp, err := b.dial(t, "peer_id=alice-1&token=bad")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := b.dial(t, "peer_id=alice-1&token=good")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, TypeOpen, read(t, conn).Type)
}

func TestBroker_DisconnectReleasesIdentity(t *testing.T) {
	b := newTestBroker(t, DefaultOptions(), nil)
	conn := b.register(t, "alice-1")
	conn.Close()

	assert.Eventually(t, func() bool {
		return !b.server.IsPeerConnected("alice-1")
	}, 2*time.Second, 10*time.Millisecond)

	b.register(t, "alice-1")
	require.NoError(t, b.server.Shutdown(context.Background()))

	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	assert.Equal(t, 2, b.metrics.opened)
}

// channelRelay fans published messages out to every subscribed broker.
type channelRelay struct {
	mu          sync.Mutex
	subscribers []func(Message)
	ready       chan struct{}
}

func newChannelRelay(subscribers int) *channelRelay {
	return &channelRelay{ready: make(chan struct{}, subscribers)}
}

func (r *channelRelay) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	subs := append(([]func(Message))(nil), r.subscribers...)
	r.mu.Unlock()
	for _, deliver := range subs {
		deliver(msg)
	}
	return nil
}

func (r *channelRelay) Subscribe(ctx context.Context, deliver func(Message)) error {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, deliver)
	r.mu.Unlock()
	r.ready <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func newSharedBrokers(t *testing.T) (*testBroker, *testBroker) {
	directory := memory.NewMemoryPeerDirectory()
	relay := newChannelRelay(2)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	brokers := make([]*testBroker, 2)
	for i := range brokers {
		metrics := newCountingMetrics()
		server := NewWebSocketServer(directory, nil, metrics, DefaultOptions(), zaptest.NewLogger(t).Sugar())
		server.UseRelay(relay)
		go server.ServeRelay(ctx)
		ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
		t.Cleanup(ts.Close)
		brokers[i] = &testBroker{server: server, http: ts, metrics: metrics}
	}
	for range brokers {
		<-relay.ready
	}
	return brokers[0], brokers[1]
}

func TestBroker_RelaysAcrossInstances(t *testing.T) {
	east, west := newSharedBrokers(t)
	alice := east.register(t, "alice-1")
	bob := west.register(t, "bob-2")

	send(t, alice, TypeOffer, "bob-2", SessionPayload{ConnectionID: "c1", ConnectionType: ConnectionMedia, SDP: testSDP})
	got := read(t, bob)
	assert.Equal(t, TypeOffer, got.Type)
	assert.Equal(t, domain.PeerID("alice-1"), got.From)

	send(t, bob, TypeLeave, "alice-1", SessionPayload{ConnectionID: "c1"})
	got = read(t, alice)
	assert.Equal(t, TypeLeave, got.Type)
	assert.Equal(t, domain.PeerID("bob-2"), got.From)

	send(t, alice, TypeOffer, "carol-3", SessionPayload{ConnectionID: "c2", ConnectionType: ConnectionData, SDP: testSDP})
	got = read(t, alice)
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, KindPeerUnavailable, got.Kind)
}

func TestBroker_IdentityHeldByOtherInstance(t *testing.T) {
	east, west := newSharedBrokers(t)
	east.register(t, "alice-1")

	conn, _, err := west.dial(t, "peer_id=alice-1")
	require.NoError(t, err)
	defer conn.Close()

	got := read(t, conn)
	assert.Equal(t, TypeError, got.Type)
	assert.Equal(t, KindUnavailableID, got.Kind)
	assert.False(t, west.server.IsPeerConnected("alice-1"))
}
