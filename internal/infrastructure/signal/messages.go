package signal

import (
	"encoding/json"

	"peercord/internal/core/domain"
)

// Envelope types exchanged over the signaling websocket.
const (
	TypeOpen      = "open"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeLeave     = "leave"
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
)

// Error kinds carried by TypeError envelopes.
const (
	KindUnavailableID   = "unavailable-id"
	KindPeerUnavailable = "peer-unavailable"
	KindInvalidMessage  = "invalid-message"
	KindRateLimited     = "rate-limited"
	KindServerError     = "server-error"
)

// Connection types carried in session payloads.
const (
	ConnectionData  = "data"
	ConnectionMedia = "media"
)

// Message is the signaling envelope. The broker stamps From on every routed
// message; Payload is forwarded untouched.
type Message struct {
	Type    string          `json:"type"`
	From    domain.PeerID   `json:"from,omitempty"`
	To      domain.PeerID   `json:"to,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionPayload describes one negotiated connection between two identities.
// Offers and answers carry a complete SDP with gathered candidates.
type SessionPayload struct {
	ConnectionID   string `json:"connection_id"`
	ConnectionType string `json:"connection_type"`
	SDP            string `json:"sdp,omitempty"`
}

// CandidatePayload carries a single trickled ICE candidate.
type CandidatePayload struct {
	ConnectionID  string  `json:"connection_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

func ErrorMessage(kind, message string) Message {
	return Message{Type: TypeError, Kind: kind, Message: message}
}

// NewMessage builds an envelope with payload marshalled to JSON.
func NewMessage(msgType string, to domain.PeerID, payload interface{}) (Message, error) {
	msg := Message{Type: msgType, To: to}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}
