package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

	// YouTubeLinkRegex captures the video id from the supported link forms
	YouTubeLinkRegex = regexp.MustCompile(`^(?:https?://)?(?:www\.)?(?:youtu\.be/|youtube\.com/(?:embed/|v/|watch\?v=|watch\?.+&v=))([^#&?]*).*`)
)

const youTubeIDLength = 11

// SanitizeUsername keeps only letters, digits, '_' and '-'
func SanitizeUsername(username string) string {
	return usernameStrip.ReplaceAllString(strings.TrimSpace(username), "")
}

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 100 {
		return fmt.Errorf("peer ID is too long (max 100 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ExtractYouTubeID returns the 11-character video id of a YouTube link
func ExtractYouTubeID(link string) (string, error) {
	m := YouTubeLinkRegex.FindStringSubmatch(strings.TrimSpace(link))
	if m == nil || len(m[1]) != youTubeIDLength {
		return "", fmt.Errorf("invalid YouTube link")
	}
	return m[1], nil
}

// ValidateImage checks that a shared file is an image within the size limit
func ValidateImage(mimeType string, size, maxBytes int) error {
	if !strings.HasPrefix(mimeType, "image/") {
		return fmt.Errorf("unsupported file type %q (images only)", mimeType)
	}
	if size > maxBytes {
		return fmt.Errorf("image is too large (max %d bytes)", maxBytes)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
