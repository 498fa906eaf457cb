package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIsSpeaking(t *testing.T) {
	tests := []struct {
		level byte
		want  bool
	}{
		{level: 0, want: false},
		{level: 10, want: false},
		{level: 11, want: true},
		{level: 255, want: true},
	}
	for _, tt := range tests {
		a := &fakeAnalyser{level: tt.level}
		bins := make([]byte, a.FrequencyBinCount())
		if got := IsSpeaking(a, bins, 10); got != tt.want {
			t.Errorf("IsSpeaking(level=%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

type speakingRecorder struct {
	mu     sync.Mutex
	events []bool
	gens   []uint64
}

func (r *speakingRecorder) record(gen uint64, speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, speaking)
	r.gens = append(r.gens, gen)
}

func (r *speakingRecorder) Events() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestSpeakingDetector_ReportsTransitions(t *testing.T) {
	mock := clock.NewMock()
	factory := &fakeAnalysers{}
	d := NewSpeakingDetector(factory, mock, 10, 16*time.Millisecond, zaptest.NewLogger(t).Sugar())
	stream, _, _ := newCameraStream("local")
	rec := &speakingRecorder{}

	d.Start(stream, rec.record)
	require.Len(t, factory.analysers, 1)
	analyser := factory.analysers[0]

	analyser.SetLevel(40)
	assert.Eventually(t, func() bool {
		mock.Add(16 * time.Millisecond)
		return len(rec.Events()) == 1
	}, time.Second, time.Millisecond)

	analyser.SetLevel(2)
	assert.Eventually(t, func() bool {
		mock.Add(16 * time.Millisecond)
		return len(rec.Events()) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.Events())

	rec.mu.Lock()
	gen := rec.gens[0]
	rec.mu.Unlock()
	assert.True(t, d.Current(gen))

	d.Stop()
	assert.True(t, analyser.Closed())
	assert.False(t, d.Current(gen))
}

func TestSpeakingDetector_InstancesAreIndependent(t *testing.T) {
	mock := clock.NewMock()
	factory := &fakeAnalysers{}
	logger := zaptest.NewLogger(t).Sugar()
	local := NewSpeakingDetector(factory, mock, 10, 16*time.Millisecond, logger)
	remote := NewSpeakingDetector(factory, mock, 10, 16*time.Millisecond, logger)
	stream, _, _ := newCameraStream("s")

	local.Start(stream, func(uint64, bool) {})
	remote.Start(stream, func(uint64, bool) {})
	local.Stop()

	assert.True(t, factory.analysers[0].Closed())
	assert.False(t, factory.analysers[1].Closed())
	remote.Stop()
	assert.True(t, factory.analysers[1].Closed())
}

func TestSpeakingDetector_RestartClosesPrevious(t *testing.T) {
	factory := &fakeAnalysers{}
	d := NewSpeakingDetector(factory, clock.NewMock(), 10, 16*time.Millisecond, zaptest.NewLogger(t).Sugar())
	stream, _, _ := newCameraStream("s")

	d.Start(stream, func(uint64, bool) {})
	d.Start(stream, func(uint64, bool) {})
	assert.True(t, factory.analysers[0].Closed())
	assert.False(t, factory.analysers[1].Closed())
	d.Stop()
}

func TestSpeakingDetector_AnalyserFailureIsSwallowed(t *testing.T) {
	factory := &fakeAnalysers{err: errors.New("no audio context")}
	d := NewSpeakingDetector(factory, clock.NewMock(), 10, 16*time.Millisecond, zaptest.NewLogger(t).Sugar())
	stream, _, _ := newCameraStream("s")

	d.Start(stream, func(uint64, bool) { t.Error("unexpected report") })
	assert.False(t, d.Current(0))
	d.Stop()
}
