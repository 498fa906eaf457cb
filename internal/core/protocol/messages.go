// Package protocol defines the messages exchanged over the peer data channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"peercord/internal/core/domain"
)

type Type string

const (
	TypeStatus        Type = "status"
	TypeChat          Type = "chat"
	TypeFileShare     Type = "file-share"
	TypeProfileUpdate Type = "profile-update"
	TypeActivity      Type = "activity"
)

type Action string

const (
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionSyncState   Action = "sync-state"
	ActionPlayMusic   Action = "play-music"
	ActionPauseMusic  Action = "pause-music"
	ActionChangeTrack Action = "change-track"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Message is any record that can travel over the data channel.
type Message interface {
	MessageType() Type
}

// Status always carries all four fields; receivers replace their copy wholesale.
type Status struct {
	Muted         bool `json:"muted"`
	Deafened      bool `json:"deafened"`
	VideoEnabled  bool `json:"videoEnabled"`
	ScreenSharing bool `json:"isScreenSharing"`
}

func (Status) MessageType() Type { return TypeStatus }

func NewStatus(s domain.StatusSnapshot) Status {
	return Status{
		Muted:         s.Muted,
		Deafened:      s.Deafened,
		VideoEnabled:  s.VideoEnabled,
		ScreenSharing: s.ScreenSharing,
	}
}

func (s Status) Snapshot() domain.StatusSnapshot {
	return domain.StatusSnapshot{
		Muted:         s.Muted,
		Deafened:      s.Deafened,
		VideoEnabled:  s.VideoEnabled,
		ScreenSharing: s.ScreenSharing,
	}
}

type Chat struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

func (Chat) MessageType() Type { return TypeChat }

// FileShare inlines an image as a data URL.
type FileShare struct {
	File     string `json:"file"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Sender   string `json:"sender"`
}

func (FileShare) MessageType() Type { return TypeFileShare }

type ProfileUpdate struct {
	Avatar string `json:"avatar"`
}

func (ProfileUpdate) MessageType() Type { return TypeProfileUpdate }

// ActivityData holds the optional payload of an activity message. Pointer
// fields distinguish "absent" from zero values.
type ActivityData struct {
	VideoID     string   `json:"videoId,omitempty"`
	PlayerState *int     `json:"playerState,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	TrackIndex  *int     `json:"trackIndex,omitempty"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`
}

// Activity drives shared playback. Seq is a per-sender counter; zero means
// the sender does not sequence its messages.
type Activity struct {
	Action       Action              `json:"action"`
	ActivityType domain.ActivityKind `json:"activityType"`
	Data         *ActivityData       `json:"data,omitempty"`
	Seq          uint64              `json:"seq,omitempty"`
}

func (Activity) MessageType() Type { return TypeActivity }

type envelope struct {
	Type Type `json:"type"`
}

// Encode serializes msg as a flat JSON object with a "type" discriminator.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	typ, _ := json.Marshal(msg.MessageType())
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses a data-channel payload into its concrete message type.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	var err error
	switch env.Type {
	case TypeStatus:
		var m Status
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeChat:
		var m Chat
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeFileShare:
		var m FileShare
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeProfileUpdate:
		var m ProfileUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeActivity:
		var m Activity
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}

func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

func BoolPtr(v bool) *bool { return &v }
