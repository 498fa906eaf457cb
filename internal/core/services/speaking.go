package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"peercord/internal/core/ports"
)

// SpeakingDetector polls one stream's frequency data and reports transitions
// of the "speaking" classification. Each instance owns its own cancellation.
type SpeakingDetector struct {
	factory   ports.AnalyserFactory
	clock     clock.Clock
	threshold float64
	interval  time.Duration
	logger    *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	gen    uint64
}

func NewSpeakingDetector(factory ports.AnalyserFactory, clk clock.Clock, threshold float64, interval time.Duration, logger *zap.SugaredLogger) *SpeakingDetector {
	return &SpeakingDetector{
		factory:   factory,
		clock:     clk,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
	}
}

// Start replaces any running poll with one bound to stream. onChange is called
// from the polling goroutine with the generation it was started under.
func (d *SpeakingDetector) Start(stream ports.MediaStream, onChange func(gen uint64, speaking bool)) {
	d.Stop()
	if d.factory == nil || stream == nil {
		return
	}

	analyser, err := d.factory.NewAnalyser(stream)
	if err != nil {
		d.logger.Debugw("audio analysis unavailable", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	gen := d.gen

	ticker := d.clock.Ticker(d.interval)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer analyser.Close()
		defer ticker.Stop()
		d.poll(ctx, ticker, analyser, func(speaking bool) { onChange(gen, speaking) })
	}()
}

func (d *SpeakingDetector) poll(ctx context.Context, ticker *clock.Ticker, analyser ports.AudioAnalyser, report func(bool)) {
	bins := make([]byte, analyser.FrequencyBinCount())
	speaking := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := IsSpeaking(analyser, bins, d.threshold)
			if now != speaking {
				speaking = now
				report(speaking)
			}
		}
	}
}

// Stop cancels the poll and waits for it to release its analyser.
func (d *SpeakingDetector) Stop() {
	d.gen++
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.cancel = nil
	d.wg.Wait()
}

// Current reports whether gen still identifies the running poll.
func (d *SpeakingDetector) Current(gen uint64) bool {
	return d.cancel != nil && gen == d.gen
}

// IsSpeaking samples the analyser into bins and compares the mean magnitude
// against threshold.
func IsSpeaking(analyser ports.AudioAnalyser, bins []byte, threshold float64) bool {
	if len(bins) == 0 {
		return false
	}
	analyser.ByteFrequencyData(bins)
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum)/float64(len(bins)) > threshold
}
