package webrtc

import (
	"time"

	"github.com/pion/webrtc/v3"

	"peercord/pkg/config"
	"peercord/pkg/retry"
)

// Config configures the peer transport.
type Config struct {
	SignalURL string
	// Token is presented to the broker as is. TokenSource, when set, is asked
	// for a token bound to the identity being registered instead.
	Token       string
	TokenSource TokenSource
	ICEServers  []webrtc.ICEServer
	PortRange   struct {
		Min uint16
		Max uint16
	}

	// GatherTimeout bounds ICE gathering before an offer or answer is sent.
	GatherTimeout time.Duration
	// HeartbeatInterval keeps the broker directory entry fresh.
	HeartbeatInterval time.Duration
	// StreamSettle is how long a partially arrived remote stream waits for
	// its remaining tracks before it is delivered.
	StreamSettle time.Duration
	// KeyframeInterval paces picture loss indications for remote video.
	KeyframeInterval time.Duration

	Dial retry.Config
}

func DefaultConfig() Config {
	return Config{
		GatherTimeout:     10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		StreamSettle:      750 * time.Millisecond,
		KeyframeInterval:  3 * time.Second,
		Dial:              retry.DefaultConfig(),
	}
}

// ConfigFromApp maps the application configuration onto the transport.
func ConfigFromApp(cfg *config.Config) Config {
	c := DefaultConfig()
	c.SignalURL = cfg.Client.SignalURL
	for _, s := range cfg.WebRTC.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	c.PortRange.Min = cfg.WebRTC.PortRange.Min
	c.PortRange.Max = cfg.WebRTC.PortRange.Max
	return c
}
