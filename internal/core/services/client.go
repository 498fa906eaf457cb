package services

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/pkg/utils"
)

// Options tunes the client protocol. Zero fields fall back to DefaultOptions.
type Options struct {
	SyncTolerance     time.Duration
	EchoSuppression   time.Duration
	SpeakingThreshold float64
	SpeakingInterval  time.Duration
	MaxImageBytes     int
	NotificationTTL   time.Duration
	Playlist          []domain.Track
}

func DefaultOptions() Options {
	return Options{
		SyncTolerance:     1500 * time.Millisecond,
		EchoSuppression:   500 * time.Millisecond,
		SpeakingThreshold: 10,
		SpeakingInterval:  16 * time.Millisecond,
		MaxImageBytes:     3 * 1024 * 1024,
		NotificationTTL:   4 * time.Second,
		Playlist:          domain.DefaultPlaylist(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SyncTolerance <= 0 {
		o.SyncTolerance = d.SyncTolerance
	}
	if o.EchoSuppression <= 0 {
		o.EchoSuppression = d.EchoSuppression
	}
	if o.SpeakingThreshold <= 0 {
		o.SpeakingThreshold = d.SpeakingThreshold
	}
	if o.SpeakingInterval <= 0 {
		o.SpeakingInterval = d.SpeakingInterval
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = d.MaxImageBytes
	}
	if o.NotificationTTL <= 0 {
		o.NotificationTTL = d.NotificationTTL
	}
	if len(o.Playlist) == 0 {
		o.Playlist = d.Playlist
	}
	return o
}

// Dependencies are the collaborators a Client drives. Transport and Devices
// are required; the rest have no-op defaults.
type Dependencies struct {
	Transport ports.Transport
	Devices   ports.MediaDevices
	Analysers ports.AnalyserFactory
	Players   ports.ActivityMedia
	Presenter ports.Presenter
	Chat      ports.ChatRepository
	Metrics   ports.Metrics
	Clock     clock.Clock
	Suffix    func() int
	Logger    *zap.SugaredLogger
}

// peerLink pairs the domain record with the transport handles it owns.
type peerLink struct {
	info         domain.PeerLink
	data         ports.DataLink
	media        ports.MediaLink
	remoteStream ports.MediaStream
	opened       bool
	sendSeq      uint64
	recvSeq      uint64
}

func (l *peerLink) nextSeq() uint64 {
	l.sendSeq++
	return l.sendSeq
}

// Client is the peer session aggregate. Every field below loop is owned by
// the event loop goroutine.
type Client struct {
	transport ports.Transport
	devices   ports.MediaDevices
	analysers ports.AnalyserFactory
	players   ports.ActivityMedia
	presenter ports.Presenter
	chat      ports.ChatRepository
	metrics   ports.Metrics
	clock     clock.Clock
	suffix    func() int
	logger    *zap.SugaredLogger
	opts      Options

	loop *EventLoop

	session     domain.Session
	localStream ports.MediaStream
	local       domain.StatusSnapshot
	localAvatar *domain.Blob

	links     map[domain.PeerID]*peerLink
	pending   *peerLink
	lastEnded bool

	pipeline *OutboundPipeline
	screen   screenShare
	activity activityState

	localSpeaking  *SpeakingDetector
	remoteSpeaking *SpeakingDetector
	speakingLocal  bool
	speakingRemote bool

	notifier     *Notifier
	pinned       domain.PinnedView
	remoteVolume float64
}

func NewClient(deps Dependencies, opts Options) *Client {
	c := &Client{
		transport:    deps.Transport,
		devices:      deps.Devices,
		analysers:    deps.Analysers,
		players:      deps.Players,
		presenter:    deps.Presenter,
		chat:         deps.Chat,
		metrics:      deps.Metrics,
		clock:        deps.Clock,
		suffix:       deps.Suffix,
		logger:       deps.Logger,
		opts:         opts.withDefaults(),
		links:        make(map[domain.PeerID]*peerLink),
		pipeline:     NewOutboundPipeline(),
		remoteVolume: 1,
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.suffix == nil {
		c.suffix = utils.RandomSuffix
	}
	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}

	c.loop = NewEventLoop(c.render)
	c.notifier = NewNotifier(c.clock, c.opts.NotificationTTL, c.loop.Post, c.logger)
	c.localSpeaking = NewSpeakingDetector(c.analysers, c.clock, c.opts.SpeakingThreshold, c.opts.SpeakingInterval, c.logger.With("stream", "local"))
	c.remoteSpeaking = NewSpeakingDetector(c.analysers, c.clock, c.opts.SpeakingThreshold, c.opts.SpeakingInterval, c.logger.With("stream", "remote"))
	return c
}

// Run drives the event loop until ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) {
	c.loop.Run(ctx)
}

// Close ends any call, releases local media and the transport, and stops the loop.
func (c *Client) Close() error {
	_ = c.loop.Call(func() {
		if link := c.active(); link != nil {
			c.teardown(link, "client closed")
		}
		c.localSpeaking.Stop()
		c.notifier.Stop()
		c.pipeline.Release()
		stopStream(c.localStream)
		c.localStream = nil
	})
	c.loop.Stop()
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// do runs fn on the loop and returns its error.
func (c *Client) do(fn func() error) error {
	var err error
	if callErr := c.loop.Call(func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

// post schedules fn on the loop from any goroutine.
func (c *Client) post(fn func()) {
	if !c.loop.Post(fn) {
		c.logger.Debugw("dropping event after shutdown")
	}
}

// fail surfaces err as an error toast and returns it.
func (c *Client) fail(err error, msg string) error {
	c.notifier.Error(msg)
	return err
}

// active returns the single live PeerLink, if any.
func (c *Client) active() *peerLink {
	for _, l := range c.links {
		return l
	}
	return nil
}

func (c *Client) isCurrent(l *peerLink) bool {
	return l != nil && c.links[l.info.RemoteID] == l
}

func (c *Client) busy() bool {
	if c.pending != nil {
		return true
	}
	for _, l := range c.links {
		if l.info.Phase.Busy() {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current view.
func (c *Client) Snapshot() domain.View {
	var v domain.View
	_ = c.loop.Call(func() { v = c.view() })
	return v
}

// ChatHistory returns the local chat log in arrival order.
func (c *Client) ChatHistory(ctx context.Context) ([]domain.ChatMessage, error) {
	if c.chat == nil {
		return nil, nil
	}
	return c.chat.List(ctx)
}

func (c *Client) view() domain.View {
	v := domain.View{
		Session:          c.session,
		Phase:            domain.PhaseIdle,
		LocalStatus:      c.local,
		LocalAvatar:      c.localAvatar,
		Pinned:           c.pinned,
		LocalSpeaking:    c.speakingLocal,
		RemoteSpeaking:   c.speakingRemote,
		RemoteAudioMuted: c.local.Deafened,
		RemoteVolume:     c.remoteVolume,
		Logs:             c.notifier.Entries(),
	}
	if c.lastEnded {
		v.Phase = domain.PhaseEnded
	}
	if l := c.active(); l != nil {
		v.Phase = l.info.Phase
		v.RemoteID = l.info.RemoteID
		v.RemoteStatus = l.info.RemoteStatus
		v.RemoteAvatar = l.info.RemoteAvatar
		v.Activity = l.info.Activity.Clone()
	}
	if c.pending != nil {
		v.IncomingFrom = c.pending.info.RemoteID
	}
	return v
}

func (c *Client) render() {
	c.presenter.Render(c.view())
}

func stopStream(s ports.MediaStream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

type nopPresenter struct{}

func (nopPresenter) Render(domain.View)          {}
func (nopPresenter) ShowChat(domain.ChatMessage) {}
func (nopPresenter) PlayCue(domain.Cue)          {}
func (nopPresenter) StopCue(domain.Cue)          {}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string)     {}
func (nopMetrics) MessageReceived(string) {}
func (nopMetrics) MessageDropped(string)  {}
func (nopMetrics) SyncSeek()              {}
func (nopMetrics) EchoSuppressed()        {}
func (nopMetrics) StaleActivityDropped()  {}
func (nopMetrics) CallStarted()           {}
func (nopMetrics) CallEnded(float64)      {}
