package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/core/protocol"
)

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.TrackKind
	enabled bool
	stops   int
	onEnded func()
}

func newFakeTrack(id string, kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// End simulates the capture being ended outside the application.
func (t *fakeTrack) End() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeStream struct {
	id     string
	tracks []ports.Track
}

func (s *fakeStream) ID() string            { return s.id }
func (s *fakeStream) Tracks() []ports.Track { return s.tracks }

func newCameraStream(id string) (*fakeStream, *fakeTrack, *fakeTrack) {
	mic := newFakeTrack(id+"-mic", domain.TrackAudio)
	cam := newFakeTrack(id+"-cam", domain.TrackVideo)
	return &fakeStream{id: id, tracks: []ports.Track{mic, cam}}, mic, cam
}

type fakeDevices struct {
	mu         sync.Mutex
	userErr    error
	displayErr error
	cameras    []*fakeStream
	displays   []*fakeStream
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, _ ports.MediaConstraints) (ports.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.userErr != nil {
		return nil, d.userErr
	}
	s, _, _ := newCameraStream(fmt.Sprintf("camera-%d", len(d.cameras)))
	d.cameras = append(d.cameras, s)
	return s, nil
}

func (d *fakeDevices) GetDisplayMedia(ctx context.Context) (ports.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	id := fmt.Sprintf("display-%d", len(d.displays))
	s := &fakeStream{id: id, tracks: []ports.Track{newFakeTrack(id+"-screen", domain.TrackVideo)}}
	d.displays = append(d.displays, s)
	return s, nil
}

func (d *fakeDevices) Camera(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.cameras) {
		return nil
	}
	return d.cameras[i]
}

func (d *fakeDevices) CameraCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cameras)
}

func (d *fakeDevices) Display(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displays[i]
}

func trackOf(s *fakeStream, kind domain.TrackKind) *fakeTrack {
	return ports.FirstTrack(s, kind).(*fakeTrack)
}

type fakeSender struct {
	mu       sync.Mutex
	kind     domain.TrackKind
	err      error
	replaced []ports.Track
}

func (s *fakeSender) Kind() domain.TrackKind { return s.kind }

func (s *fakeSender) ReplaceTrack(ctx context.Context, t ports.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.replaced = append(s.replaced, t)
	return nil
}

func (s *fakeSender) Replaced() []ports.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Track(nil), s.replaced...)
}

type fakeDataLink struct {
	mu      sync.Mutex
	peer    domain.PeerID
	open    bool
	closes  int
	sent    [][]byte
	onOpen  func()
	onData  func([]byte)
	onClose func()
}

func (d *fakeDataLink) Peer() domain.PeerID { return d.peer }

func (d *fakeDataLink) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDataLink) Send(payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("closed")
	}
	d.sent = append(d.sent, payload)
	return nil
}

func (d *fakeDataLink) OnOpen(fn func()) {
	d.mu.Lock()
	d.onOpen = fn
	d.mu.Unlock()
}

func (d *fakeDataLink) OnData(fn func([]byte)) {
	d.mu.Lock()
	d.onData = fn
	d.mu.Unlock()
}

func (d *fakeDataLink) OnClose(fn func()) {
	d.mu.Lock()
	d.onClose = fn
	d.mu.Unlock()
}

func (d *fakeDataLink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.closes++
	return nil
}

func (d *fakeDataLink) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Open marks the channel open and fires the open handler.
func (d *fakeDataLink) Open() {
	d.mu.Lock()
	d.open = true
	fn := d.onOpen
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver hands an inbound message to the data handler.
func (d *fakeDataLink) Deliver(t *testing.T, msg protocol.Message) {
	t.Helper()
	payload, err := protocol.Encode(msg)
	require.NoError(t, err)
	d.DeliverRaw(payload)
}

func (d *fakeDataLink) DeliverRaw(payload []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

// Hangup simulates the remote side closing the channel.
func (d *fakeDataLink) Hangup() {
	d.mu.Lock()
	d.open = false
	fn := d.onClose
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Sent decodes every message sent so far.
func (d *fakeDataLink) Sent(t *testing.T) []protocol.Message {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Message, 0, len(d.sent))
	for _, p := range d.sent {
		msg, err := protocol.Decode(p)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (d *fakeDataLink) statuses(t *testing.T) []protocol.Status {
	var out []protocol.Status
	for _, m := range d.Sent(t) {
		if s, ok := m.(protocol.Status); ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *fakeDataLink) activities(t *testing.T) []protocol.Activity {
	var out []protocol.Activity
	for _, m := range d.Sent(t) {
		if a, ok := m.(protocol.Activity); ok {
			out = append(out, a)
		}
	}
	return out
}

type fakeMediaLink struct {
	mu       sync.Mutex
	peer     domain.PeerID
	senders  []*fakeSender
	answered ports.MediaStream
	closes   int
	onStream func(ports.MediaStream)
	onClose  func()
}

func newFakeMediaLink(peer domain.PeerID) *fakeMediaLink {
	return &fakeMediaLink{
		peer: peer,
		senders: []*fakeSender{
			{kind: domain.TrackAudio},
			{kind: domain.TrackVideo},
		},
	}
}

func (m *fakeMediaLink) Peer() domain.PeerID { return m.peer }

func (m *fakeMediaLink) Answer(s ports.MediaStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = s
	return nil
}

func (m *fakeMediaLink) OnStream(fn func(ports.MediaStream)) {
	m.mu.Lock()
	m.onStream = fn
	m.mu.Unlock()
}

func (m *fakeMediaLink) OnClose(fn func()) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

func (m *fakeMediaLink) Senders() []ports.TrackSender {
	out := make([]ports.TrackSender, len(m.senders))
	for i, s := range m.senders {
		out[i] = s
	}
	return out
}

func (m *fakeMediaLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMediaLink) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *fakeMediaLink) Sender(kind domain.TrackKind) *fakeSender {
	for _, s := range m.senders {
		if s.kind == kind {
			return s
		}
	}
	return nil
}

// Stream simulates the remote stream arriving.
func (m *fakeMediaLink) Stream(s ports.MediaStream) {
	m.mu.Lock()
	fn := m.onStream
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

type fakeTransport struct {
	mu          sync.Mutex
	registerErr error
	connectErr  error
	handler     ports.TransportHandler
	connects    []domain.PeerID
	data        []*fakeDataLink
	media       []*fakeMediaLink
	closed      bool
}

func (f *fakeTransport) Register(ctx context.Context, localID domain.PeerID, h ports.TransportHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.handler = h
	return nil
}

func (f *fakeTransport) Connect(remote domain.PeerID) (ports.DataLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, remote)
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	d := &fakeDataLink{peer: remote}
	f.data = append(f.data, d)
	return d, nil
}

func (f *fakeTransport) Call(remote domain.PeerID, _ ports.MediaStream) (ports.MediaLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := newFakeMediaLink(remote)
	f.media = append(f.media, m)
	return m, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Handler() ports.TransportHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeTransport) LastData() *fakeDataLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[len(f.data)-1]
}

func (f *fakeTransport) LastMedia() *fakeMediaLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.media[len(f.media)-1]
}

type fakePresenter struct {
	mu    sync.Mutex
	cues  []domain.Cue
	stops []domain.Cue
	chats []domain.ChatMessage
}

func (p *fakePresenter) Render(domain.View) {}

func (p *fakePresenter) ShowChat(m domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = append(p.chats, m)
}

func (p *fakePresenter) PlayCue(c domain.Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cues = append(p.cues, c)
}

func (p *fakePresenter) StopCue(c domain.Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops = append(p.stops, c)
}

func (p *fakePresenter) Cues() []domain.Cue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Cue(nil), p.cues...)
}

func (p *fakePresenter) Chats() []domain.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChatMessage(nil), p.chats...)
}

type fakeMetrics struct {
	mu           sync.Mutex
	seeks        int
	echoes       int
	stale        int
	dropped      map[string]int
	callsStarted int
	callsEnded   int
}

func (m *fakeMetrics) MessageSent(string)     {}
func (m *fakeMetrics) MessageReceived(string) {}

func (m *fakeMetrics) MessageDropped(t string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped == nil {
		m.dropped = make(map[string]int)
	}
	m.dropped[t]++
}

func (m *fakeMetrics) SyncSeek() {
	m.mu.Lock()
	m.seeks++
	m.mu.Unlock()
}

func (m *fakeMetrics) EchoSuppressed() {
	m.mu.Lock()
	m.echoes++
	m.mu.Unlock()
}

func (m *fakeMetrics) StaleActivityDropped() {
	m.mu.Lock()
	m.stale++
	m.mu.Unlock()
}

func (m *fakeMetrics) CallStarted() {
	m.mu.Lock()
	m.callsStarted++
	m.mu.Unlock()
}

func (m *fakeMetrics) CallEnded(float64) {
	m.mu.Lock()
	m.callsEnded++
	m.mu.Unlock()
}

type metricCounts struct {
	seeks, echoes, stale     int
	callsStarted, callsEnded int
}

func (m *fakeMetrics) counts() metricCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricCounts{seeks: m.seeks, echoes: m.echoes, stale: m.stale, callsStarted: m.callsStarted, callsEnded: m.callsEnded}
}

type fakeVideoPlayer struct {
	mu       sync.Mutex
	videoID  string
	state    domain.PlayerState
	position float64
	seeks    []float64
	plays    int
	pauses   int
	destroys int
	onChange func(domain.PlayerState)
}

func (p *fakeVideoPlayer) Play() {
	p.mu.Lock()
	p.plays++
	p.state = domain.PlayerPlaying
	p.mu.Unlock()
}

func (p *fakeVideoPlayer) Pause() {
	p.mu.Lock()
	p.pauses++
	p.state = domain.PlayerPaused
	p.mu.Unlock()
}

func (p *fakeVideoPlayer) Destroy() {
	p.mu.Lock()
	p.destroys++
	p.mu.Unlock()
}

func (p *fakeVideoPlayer) SeekTo(s float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, s)
	p.position = s
}

func (p *fakeVideoPlayer) State() domain.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakeVideoPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Emit simulates the embedded player reporting a state change.
func (p *fakeVideoPlayer) Emit(state domain.PlayerState) {
	p.mu.Lock()
	p.state = state
	fn := p.onChange
	p.mu.Unlock()
	fn(state)
}

type fakeAudioPlayer struct {
	mu       sync.Mutex
	src      string
	loads    int
	playing  bool
	releases int
	onEnded  func()
}

func (p *fakeAudioPlayer) Load(src string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = src
	p.loads++
	return nil
}

func (p *fakeAudioPlayer) Play() error {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
	return nil
}

func (p *fakeAudioPlayer) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

func (p *fakeAudioPlayer) Release() {
	p.mu.Lock()
	p.releases++
	p.mu.Unlock()
}

func (p *fakeAudioPlayer) Src() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

func (p *fakeAudioPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

type fakePlayers struct {
	mu     sync.Mutex
	videos []*fakeVideoPlayer
	audios []*fakeAudioPlayer
}

func (f *fakePlayers) NewVideoPlayer(videoID string, onChange func(domain.PlayerState)) (ports.VideoPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeVideoPlayer{videoID: videoID, state: domain.PlayerUnstarted, onChange: onChange}
	f.videos = append(f.videos, p)
	return p, nil
}

func (f *fakePlayers) NewAudioPlayer(onEnded func()) (ports.AudioPlayer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeAudioPlayer{onEnded: onEnded}
	f.audios = append(f.audios, p)
	return p, nil
}

func (f *fakePlayers) LastVideo() *fakeVideoPlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videos[len(f.videos)-1]
}

func (f *fakePlayers) LastAudio() *fakeAudioPlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audios[len(f.audios)-1]
}

type fakeAnalyser struct {
	mu     sync.Mutex
	level  byte
	closed bool
}

func (a *fakeAnalyser) FrequencyBinCount() int { return 8 }

func (a *fakeAnalyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range dst {
		dst[i] = a.level
	}
}

func (a *fakeAnalyser) SetLevel(v byte) {
	a.mu.Lock()
	a.level = v
	a.mu.Unlock()
}

func (a *fakeAnalyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *fakeAnalyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type fakeAnalysers struct {
	mu        sync.Mutex
	err       error
	analysers []*fakeAnalyser
}

func (f *fakeAnalysers) NewAnalyser(ports.MediaStream) (ports.AudioAnalyser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	a := &fakeAnalyser{}
	f.analysers = append(f.analysers, a)
	return a, nil
}

// harness wires a Client to fakes and runs its loop for the test's lifetime.
type harness struct {
	client    *Client
	clock     *clock.Mock
	transport *fakeTransport
	devices   *fakeDevices
	presenter *fakePresenter
	metrics   *fakeMetrics
	players   *fakePlayers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.NewMock(),
		transport: &fakeTransport{},
		devices:   &fakeDevices{},
		presenter: &fakePresenter{},
		metrics:   &fakeMetrics{},
		players:   &fakePlayers{},
	}
	h.clock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	h.client = NewClient(Dependencies{
		Transport: h.transport,
		Devices:   h.devices,
		Players:   h.players,
		Presenter: h.presenter,
		Metrics:   h.metrics,
		Clock:     h.clock,
		Suffix:    func() int { return 1234 },
		Logger:    zaptest.NewLogger(t).Sugar(),
	}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go h.client.Run(ctx)
	t.Cleanup(func() {
		_ = h.client.Close()
		cancel()
	})
	return h
}

// onLoop runs fn on the client's loop; it also acts as a barrier for
// previously posted events.
func (h *harness) onLoop(t *testing.T, fn func(c *Client)) {
	t.Helper()
	require.NoError(t, h.client.do(func() error {
		fn(h.client)
		return nil
	}))
}

func (h *harness) login(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, h.client.Login(context.Background(), name))
	h.transport.Handler().OnOpen()
	require.Equal(t, domain.StatusLoggedIn, h.client.Snapshot().Session.Status)
}

// dial places an outgoing call and completes it from the remote side.
func (h *harness) dial(t *testing.T, remote string) (*fakeDataLink, *fakeMediaLink) {
	t.Helper()
	require.NoError(t, h.client.InitiateCall(remote))
	data, media := h.transport.LastData(), h.transport.LastMedia()
	data.Open()
	remoteStream, _, _ := newCameraStream("remote")
	media.Stream(remoteStream)
	require.Equal(t, domain.PhaseConnected, h.client.Snapshot().Phase)
	return data, media
}

// incoming delivers an inbound data connection and call from remote.
func (h *harness) incoming(t *testing.T, remote string) (*fakeDataLink, *fakeMediaLink) {
	t.Helper()
	data := &fakeDataLink{peer: domain.PeerID(remote)}
	media := newFakeMediaLink(domain.PeerID(remote))
	handler := h.transport.Handler()
	handler.OnConnection(data)
	data.Open()
	handler.OnCall(media)
	require.Equal(t, domain.PeerID(remote), h.client.Snapshot().IncomingFrom)
	return data, media
}
