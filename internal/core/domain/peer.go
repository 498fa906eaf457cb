package domain

import "time"

type PeerID string

// Phase is the connection phase of a PeerLink.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDialing
	PhaseRingingInbound
	PhaseConnected
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDialing:
		return "dialing"
	case PhaseRingingInbound:
		return "ringing"
	case PhaseConnected:
		return "connected"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Busy reports whether a link in this phase blocks a new call.
func (p Phase) Busy() bool {
	return p == PhaseDialing || p == PhaseRingingInbound || p == PhaseConnected
}

// PeerLink is the relationship to one remote identity. The transport handles
// live next to it in the services layer.
type PeerLink struct {
	RemoteID     PeerID
	Phase        Phase
	RemoteStatus StatusSnapshot
	RemoteAvatar *Blob
	Activity     *ActivitySession
	ConnectedAt  time.Time
}
