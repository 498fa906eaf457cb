package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

var (
	errAlreadyAnswered = errors.New("call already answered")
	errLinkClosed      = errors.New("link closed")
)

// mediaLink is a call on its own PeerConnection. Inbound tracks are grouped
// into one remote stream, delivered when every negotiated track has arrived
// or StreamSettle after the first one.
type mediaLink struct {
	conn *connection

	mu       sync.Mutex
	senders  []ports.TrackSender
	answered bool
	closed   bool
	stream   *remoteStream
	tracks   []*RemoteTrack
	settle   *time.Timer
	ready    bool
	emitted  bool
	onStream func(ports.MediaStream)
	onClose  func()
}

func newMediaLink(conn *connection) *mediaLink {
	l := &mediaLink{conn: conn}
	conn.pc.OnTrack(l.handleTrack)
	conn.whenClosed(l.finish)
	return l
}

func (l *mediaLink) Peer() domain.PeerID { return l.conn.remote }

// Answer attaches stream to an inbound call and completes negotiation in the
// background. Senders are available as soon as it returns.
func (l *mediaLink) Answer(stream ports.MediaStream) error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return errLinkClosed
	case l.answered:
		l.mu.Unlock()
		return errAlreadyAnswered
	}
	l.answered = true
	l.mu.Unlock()

	if err := l.addTracks(stream); err != nil {
		l.conn.close(true)
		return err
	}
	go l.conn.answer(nil)
	return nil
}

func (l *mediaLink) markAnswered() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answered = true
}

func (l *mediaLink) addTracks(stream ports.MediaStream) error {
	if stream == nil {
		return nil
	}
	for _, track := range stream.Tracks() {
		local, ok := track.(trackLocal)
		if !ok {
			return fmt.Errorf("track %s cannot be sent", track.ID())
		}
		sender, err := l.conn.pc.AddTrack(local.TrackLocal())
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go readSenderRTCP(l.conn.remote, sender, l.conn.logger)

		l.mu.Lock()
		l.senders = append(l.senders, &trackSender{sender: sender, kind: track.Kind()})
		l.mu.Unlock()
	}
	return nil
}

// receiveMissing adds receive-only transceivers for kinds the local stream
// does not send, so the remote side can still send them.
func (l *mediaLink) receiveMissing() error {
	have := make(map[domain.TrackKind]bool)
	for _, s := range l.Senders() {
		have[s.Kind()] = true
	}
	for kind, codec := range map[domain.TrackKind]webrtc.RTPCodecType{
		domain.TrackAudio: webrtc.RTPCodecTypeAudio,
		domain.TrackVideo: webrtc.RTPCodecTypeVideo,
	} {
		if have[kind] {
			continue
		}
		if _, err := l.conn.pc.AddTransceiverFromKind(codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (l *mediaLink) Senders() []ports.TrackSender {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.TrackSender(nil), l.senders...)
}

// OnStream sets the remote stream handler. A stream that became ready before
// the handler was set is delivered immediately.
func (l *mediaLink) OnStream(fn func(stream ports.MediaStream)) {
	l.mu.Lock()
	l.onStream = fn
	deliver := fn != nil && l.ready && !l.emitted && !l.closed
	if deliver {
		l.emitted = true
	}
	stream := l.stream
	l.mu.Unlock()

	if deliver {
		fn(stream)
	}
}

func (l *mediaLink) OnClose(fn func()) {
	l.mu.Lock()
	l.onClose = fn
	closed := l.closed
	l.mu.Unlock()

	if closed && fn != nil {
		fn()
	}
}

func (l *mediaLink) Close() error {
	l.conn.close(true)
	return nil
}

func (l *mediaLink) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t := l.conn.transport
	rt := newRemoteTrack(track, receiver)

	l.conn.logger.Infow("remote track received",
		"track_id", track.ID(),
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	go rt.pump(t.metrics, l.conn.logger)
	go readReceiverRTCP(l.conn.remote, receiver, l.conn.logger)
	if rt.Kind() == domain.TrackVideo && t.cfg.KeyframeInterval > 0 {
		go requestKeyframes(l.conn.pc, rt, t.cfg.KeyframeInterval, t.metrics, l.conn.logger)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		rt.Stop()
		return
	}
	if l.stream == nil {
		l.stream = &remoteStream{id: track.StreamID()}
	}
	l.tracks = append(l.tracks, rt)
	count := l.stream.add(rt)
	complete := count >= l.expectedTracks()
	if !complete && l.settle == nil && t.cfg.StreamSettle > 0 {
		l.settle = time.AfterFunc(t.cfg.StreamSettle, l.deliver)
	}
	l.mu.Unlock()

	if complete || t.cfg.StreamSettle <= 0 {
		l.deliver()
	}
}

// expectedTracks counts transceivers negotiated to receive. Must be called
// with l.mu held.
func (l *mediaLink) expectedTracks() int {
	n := 0
	for _, tr := range l.conn.pc.GetTransceivers() {
		switch tr.Direction() {
		case webrtc.RTPTransceiverDirectionSendrecv, webrtc.RTPTransceiverDirectionRecvonly:
			n++
		}
	}
	return n
}

func (l *mediaLink) deliver() {
	l.mu.Lock()
	if l.ready || l.closed || l.stream == nil {
		l.mu.Unlock()
		return
	}
	l.ready = true
	if l.settle != nil {
		l.settle.Stop()
	}
	fn := l.onStream
	if fn != nil {
		l.emitted = true
	}
	stream := l.stream
	l.mu.Unlock()

	l.conn.logger.Infow("remote stream ready", "stream_id", stream.ID(), "tracks", len(stream.Tracks()))
	if fn != nil {
		fn(stream)
	}
}

func (l *mediaLink) finish() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.settle != nil {
		l.settle.Stop()
	}
	tracks := l.tracks
	fn := l.onClose
	l.mu.Unlock()

	for _, rt := range tracks {
		rt.finish()
	}
	if fn != nil {
		fn()
	}
}

// trackSender swaps the track on one RTP sender.
type trackSender struct {
	sender *webrtc.RTPSender
	kind   domain.TrackKind
}

func (s *trackSender) Kind() domain.TrackKind { return s.kind }

func (s *trackSender) ReplaceTrack(ctx context.Context, track ports.Track) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if track == nil {
		return s.sender.ReplaceTrack(nil)
	}
	if track.Kind() != s.kind {
		return fmt.Errorf("cannot replace %s track with %s", s.kind, track.Kind())
	}
	local, ok := track.(trackLocal)
	if !ok {
		return fmt.Errorf("track %s cannot be sent", track.ID())
	}
	return s.sender.ReplaceTrack(local.TrackLocal())
}
