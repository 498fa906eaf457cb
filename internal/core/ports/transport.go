package ports

import (
	"context"

	"peercord/internal/core/domain"
)

// TransportErrorKind classifies transport registration and routing failures.
type TransportErrorKind string

const (
	ErrKindPeerUnavailable TransportErrorKind = "peer-unavailable"
	ErrKindUnavailableID   TransportErrorKind = "unavailable-id"
	ErrKindNetwork         TransportErrorKind = "network"
	ErrKindServer          TransportErrorKind = "server-error"
)

type TransportError struct {
	Kind    TransportErrorKind
	Message string
}

func (e *TransportError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// TransportHandler receives registration-level transport events.
// Callbacks may arrive on any goroutine.
type TransportHandler interface {
	OnOpen()
	OnConnection(link DataLink)
	OnCall(link MediaLink)
	OnError(err *TransportError)
}

// Transport brokers data channels and media calls to remote identities.
type Transport interface {
	Register(ctx context.Context, localID domain.PeerID, handler TransportHandler) error
	Connect(remote domain.PeerID) (DataLink, error)
	Call(remote domain.PeerID, stream MediaStream) (MediaLink, error)
	Close() error
}

// DataLink is a reliable, ordered message channel to one peer.
type DataLink interface {
	Peer() domain.PeerID
	IsOpen() bool
	Send(data []byte) error
	OnOpen(fn func())
	OnData(fn func(data []byte))
	OnClose(fn func())
	Close() error
}

// MediaLink is a negotiated audio/video call with one peer.
type MediaLink interface {
	Peer() domain.PeerID
	Answer(stream MediaStream) error
	OnStream(fn func(stream MediaStream))
	OnClose(fn func())
	Senders() []TrackSender
	Close() error
}

// TrackSender is one outbound slot on the call's underlying connection.
type TrackSender interface {
	Kind() domain.TrackKind
	ReplaceTrack(ctx context.Context, track Track) error
}
