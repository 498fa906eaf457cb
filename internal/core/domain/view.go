package domain

type PinnedView string

const (
	PinnedNone     PinnedView = ""
	PinnedLocal    PinnedView = "local"
	PinnedRemote   PinnedView = "remote"
	PinnedActivity PinnedView = "activity"
)

// Cue is a short audio notification played by the presentation layer.
type Cue string

const (
	CueJoin     Cue = "join"
	CueLeave    Cue = "leave"
	CueMessage  Cue = "message"
	CueMute     Cue = "mute"
	CueUnmute   Cue = "unmute"
	CueRingtone Cue = "ringtone"
)

// View is a read-only copy of everything the presentation layer renders.
type View struct {
	Session          Session
	Phase            Phase
	RemoteID         PeerID
	IncomingFrom     PeerID
	LocalStatus      StatusSnapshot
	RemoteStatus     StatusSnapshot
	LocalAvatar      *Blob
	RemoteAvatar     *Blob
	Activity         *ActivitySession
	Pinned           PinnedView
	LocalSpeaking    bool
	RemoteSpeaking   bool
	RemoteAudioMuted bool
	RemoteVolume     float64
	Logs             []LogEntry
}
