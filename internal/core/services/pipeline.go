package services

import (
	"context"
	"fmt"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
)

// OutboundPipeline holds one outgoing track slot per media kind. When bound to
// a call's senders, Swap replaces the transmitted track in place.
type OutboundPipeline struct {
	slots   map[domain.TrackKind]ports.Track
	senders map[domain.TrackKind]ports.TrackSender
}

func NewOutboundPipeline() *OutboundPipeline {
	return &OutboundPipeline{
		slots:   make(map[domain.TrackKind]ports.Track),
		senders: make(map[domain.TrackKind]ports.TrackSender),
	}
}

// Attach fills the slots from a freshly acquired stream without stopping
// anything. Used once the capture devices are first opened.
func (p *OutboundPipeline) Attach(stream ports.MediaStream) {
	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		if t := ports.FirstTrack(stream, kind); t != nil {
			p.slots[kind] = t
		}
	}
}

// Bind associates the pipeline with a live call's senders.
func (p *OutboundPipeline) Bind(senders []ports.TrackSender) {
	p.senders = make(map[domain.TrackKind]ports.TrackSender, len(senders))
	for _, s := range senders {
		if _, ok := p.senders[s.Kind()]; !ok {
			p.senders[s.Kind()] = s
		}
	}
}

func (p *OutboundPipeline) Unbind() {
	p.senders = make(map[domain.TrackKind]ports.TrackSender)
}

func (p *OutboundPipeline) Track(kind domain.TrackKind) ports.Track {
	return p.slots[kind]
}

// Swap installs track in the slot for kind, then stops the previous track.
// If the sender rejects the replacement the slot is left unchanged.
func (p *OutboundPipeline) Swap(ctx context.Context, kind domain.TrackKind, track ports.Track) error {
	if s, ok := p.senders[kind]; ok {
		if err := s.ReplaceTrack(ctx, track); err != nil {
			return fmt.Errorf("replace %s track: %w", kind, err)
		}
	}
	old := p.slots[kind]
	p.slots[kind] = track
	if old != nil && old != track {
		old.Stop()
	}
	return nil
}

// Drop empties any slot holding track without stopping it.
func (p *OutboundPipeline) Drop(track ports.Track) {
	for kind, t := range p.slots {
		if t == track {
			delete(p.slots, kind)
		}
	}
}

// Release stops every slotted track.
func (p *OutboundPipeline) Release() {
	for kind, t := range p.slots {
		t.Stop()
		delete(p.slots, kind)
	}
	p.Unbind()
}

// Stream returns the slotted tracks as a stream, audio first.
func (p *OutboundPipeline) Stream() ports.MediaStream {
	s := &slotStream{}
	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		if t := p.slots[kind]; t != nil {
			s.tracks = append(s.tracks, t)
		}
	}
	return s
}

type slotStream struct {
	tracks []ports.Track
}

func (s *slotStream) ID() string { return "outbound" }

func (s *slotStream) Tracks() []ports.Track { return s.tracks }
