package media

import (
	"errors"
	"fmt"
	"sync"

	"peercord/internal/core/domain"
	"peercord/internal/core/ports"
	"peercord/internal/infrastructure/webrtc"
)

var ErrNoAudioTrack = errors.New("stream has no audio track")

// AnalyserFactory builds analysers over tracks that report a level. There is
// no decoded spectrum, so every bin carries the current level.
type AnalyserFactory struct {
	fftSize int
}

func NewAnalyserFactory(fftSize int) *AnalyserFactory {
	return &AnalyserFactory{fftSize: fftSize}
}

func (f *AnalyserFactory) NewAnalyser(stream ports.MediaStream) (ports.AudioAnalyser, error) {
	track := ports.FirstTrack(stream, domain.TrackAudio)
	if track == nil {
		return nil, ErrNoAudioTrack
	}
	source, ok := track.(webrtc.LevelSource)
	if !ok {
		return nil, fmt.Errorf("track %s does not report a level", track.ID())
	}
	return &levelAnalyser{source: source, bins: f.fftSize / 2}, nil
}

type levelAnalyser struct {
	source webrtc.LevelSource
	bins   int

	mu     sync.Mutex
	closed bool
}

func (a *levelAnalyser) FrequencyBinCount() int { return a.bins }

func (a *levelAnalyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()

	level := byte(0)
	if !closed {
		level = a.source.AudioLevel()
	}
	for i := range dst {
		dst[i] = level
	}
}

func (a *levelAnalyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
