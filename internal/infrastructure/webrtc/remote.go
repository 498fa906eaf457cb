package webrtc

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// Metrics receives transport-level media counters. It may be nil.
type Metrics interface {
	MediaBytesReceived(kind string, n int)
	PictureLossSent()
}

// RemoteTrack is an inbound track. Disabling it only affects local rendering;
// packets keep being drained so the interceptors stay fed.
type RemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	kind     domain.TrackKind

	mu      sync.Mutex
	enabled bool
	ended   bool
	level   uint8
	onEnded func()
	done    chan struct{}
}

func newRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *RemoteTrack {
	kind := domain.TrackAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackVideo
	}
	return &RemoteTrack{
		track:    track,
		receiver: receiver,
		kind:     kind,
		enabled:  true,
		done:     make(chan struct{}),
	}
}

func (t *RemoteTrack) ID() string             { return t.track.ID() }
func (t *RemoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *RemoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *RemoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *RemoteTrack) AudioLevel() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.level
}

// Stop stops the receiver; the pump exits on the next read.
func (t *RemoteTrack) Stop() {
	t.receiver.Stop()
}

func (t *RemoteTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *RemoteTrack) finish() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.level = 0
	close(t.done)
	fn := t.onEnded
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// pump drains RTP until the track ends, tracking the audio level and
// received byte counts.
func (t *RemoteTrack) pump(metrics Metrics, logger *zap.SugaredLogger) {
	defer t.finish()

	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	for {
		n, _, err := t.track.Read(buf)
		if err != nil {
			logger.Debugw("remote track ended", "track_id", t.track.ID(), "error", err)
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			logger.Debugw("error unmarshaling RTP packet", "track_id", t.track.ID(), "error", err)
			continue
		}

		size := len(packet.Payload)
		if t.kind == domain.TrackAudio {
			t.mu.Lock()
			t.level = levelFromFrame(size)
			t.mu.Unlock()
		}
		if metrics != nil {
			metrics.MediaBytesReceived(string(t.kind), size)
		}
	}
}

// remoteStream collects inbound tracks that share a stream id.
type remoteStream struct {
	id string

	mu     sync.Mutex
	tracks []ports.Track
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) Tracks() []ports.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Track(nil), s.tracks...)
}

func (s *remoteStream) add(t ports.Track) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
	return len(s.tracks)
}

// requestKeyframes sends a picture loss indication for a remote video track
// right away and then every interval until the track ends.
func requestKeyframes(pc *webrtc.PeerConnection, t *RemoteTrack, interval time.Duration, metrics Metrics, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			logger.Debugw("error sending PLI", "track_id", t.track.ID(), "error", err)
			return
		}
		if metrics != nil {
			metrics.PictureLossSent()
		}

		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
	}
}

// readReceiverRTCP drains sender reports arriving for a remote track.
func readReceiverRTCP(remote domain.PeerID, receiver *webrtc.RTPReceiver, logger *zap.SugaredLogger) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		logRTCP(remote, packets, logger)
	}
}

// readSenderRTCP drains receiver feedback for an outbound track. Reading is
// required for the NACK and report interceptors to run.
func readSenderRTCP(remote domain.PeerID, sender *webrtc.RTPSender, logger *zap.SugaredLogger) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		logRTCP(remote, packets, logger)
	}
}

func logRTCP(remote domain.PeerID, packets []rtcp.Packet, logger *zap.SugaredLogger) {
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				logger.Debugw("received receiver report",
					"remote_id", remote,
					"ssrc", report.SSRC,
					"fraction_lost", float64(report.FractionLost)/256.0,
					"jitter", report.Jitter,
				)
			}

		case *rtcp.SenderReport:
			logger.Debugw("received sender report",
				"remote_id", remote,
				"packet_count", p.PacketCount,
				"octet_count", p.OctetCount,
			)

		case *rtcp.TransportLayerNack:
			logger.Debugw("received NACK",
				"remote_id", remote,
				"nacks", len(p.Nacks),
			)

		case *rtcp.PictureLossIndication:
			logger.Debugw("received PLI",
				"remote_id", remote,
				"media_ssrc", p.MediaSSRC,
			)
		}
	}
}
