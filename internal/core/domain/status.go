package domain

// StatusSnapshot is the four-field presence record exchanged wholesale.
type StatusSnapshot struct {
	Muted         bool
	Deafened      bool
	VideoEnabled  bool
	ScreenSharing bool
}
