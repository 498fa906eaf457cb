package domain

import "strings"

type ConnectionStatus int

const (
	StatusLoggedOut ConnectionStatus = iota
	StatusConnecting
	StatusLoggedIn
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusLoggedOut:
		return "logged_out"
	case StatusConnecting:
		return "connecting"
	case StatusLoggedIn:
		return "logged_in"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the running client instance.
type Session struct {
	LocalID     PeerID
	DisplayName string
	Status      ConnectionStatus
	LoginError  string
}

// Discriminator returns the random suffix of the local identity ("1234" in "alice-1234").
func (s Session) Discriminator() string {
	id := string(s.LocalID)
	if i := strings.LastIndex(id, "-"); i >= 0 {
		return id[i+1:]
	}
	return ""
}
