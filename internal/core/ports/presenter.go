package ports

import "peercord/internal/core/domain"

// Presenter renders client state. Calls are made from the client's event loop
// and must not block.
type Presenter interface {
	Render(view domain.View)
	ShowChat(msg domain.ChatMessage)
	PlayCue(cue domain.Cue)
	StopCue(cue domain.Cue)
}

// Metrics receives protocol counters.
type Metrics interface {
	MessageSent(msgType string)
	MessageReceived(msgType string)
	MessageDropped(msgType string)
	SyncSeek()
	EchoSuppressed()
	StaleActivityDropped()
	CallStarted()
	CallEnded(seconds float64)
}
