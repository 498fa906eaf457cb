package ports

import (
	"context"

	"peercord/internal/core/domain"
)

type Track interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	OnEnded(fn func())
}

type MediaStream interface {
	ID() string
	Tracks() []Track
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaDevices acquires capture streams. Both calls may block on user consent.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c MediaConstraints) (MediaStream, error)
	GetDisplayMedia(ctx context.Context) (MediaStream, error)
}

// AudioAnalyser exposes frequency-domain samples of a stream (0..255 per bin).
type AudioAnalyser interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
	Close() error
}

type AnalyserFactory interface {
	NewAnalyser(stream MediaStream) (AudioAnalyser, error)
}

// FirstTrack returns the first track of the given kind, or nil.
func FirstTrack(s MediaStream, kind domain.TrackKind) Track {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}
