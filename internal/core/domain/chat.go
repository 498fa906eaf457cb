package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Blob is an inline binary payload carried inside a message as a data URL.
type Blob struct {
	MIMEType string
	Data     []byte
}

func (b Blob) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", b.MIMEType, base64.StdEncoding.EncodeToString(b.Data))
}

func (b Blob) IsImage() bool {
	return strings.HasPrefix(b.MIMEType, "image/")
}

// ParseDataURL decodes a base64 data URL ("data:image/png;base64,...").
func ParseDataURL(s string) (Blob, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Blob{}, ErrInvalidBlob
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Blob{}, ErrInvalidBlob
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Blob{}, ErrInvalidBlob
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	return Blob{MIMEType: mime, Data: data}, nil
}

// ChatMessage is immutable once created.
type ChatMessage struct {
	ID        string
	Sender    string
	Text      string
	Image     *Blob
	FileName  string
	Outgoing  bool
	CreatedAt time.Time
}
