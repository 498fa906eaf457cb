package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/pkg/utils"
)

// maxChatLine caps how much of a received message is echoed.
const maxChatLine = 500

// Presenter prints what changed between successive views. Toasts are printed
// once, when they first appear.
type Presenter struct {
	out    io.Writer
	logger *zap.SugaredLogger

	mu       sync.Mutex
	last     domain.View
	rendered bool
	seenLogs map[int64]bool
}

func NewPresenter(out io.Writer, logger *zap.SugaredLogger) *Presenter {
	return &Presenter{
		out:      out,
		logger:   logger,
		seenLogs: make(map[int64]bool),
	}
}

func (p *Presenter) Render(view domain.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.last
	first := !p.rendered
	p.last = view
	p.rendered = true

	if first || view.Session.Status != prev.Session.Status {
		p.printSession(view.Session)
	}
	if first || view.Phase != prev.Phase || view.RemoteID != prev.RemoteID {
		p.printPhase(view)
	}
	if view.IncomingFrom != "" && view.IncomingFrom != prev.IncomingFrom {
		p.printf("incoming call from %s (accept / reject)", view.IncomingFrom)
	}
	if !first && view.LocalStatus != prev.LocalStatus {
		p.printf("you: %s", describeStatus(view.LocalStatus))
	}
	if view.RemoteID != "" && view.RemoteStatus != prev.RemoteStatus {
		p.printf("%s: %s", view.RemoteID, describeStatus(view.RemoteStatus))
	}
	if view.LocalSpeaking != prev.LocalSpeaking && view.LocalSpeaking {
		p.printf("you are speaking")
	}
	if view.RemoteSpeaking != prev.RemoteSpeaking && view.RemoteSpeaking {
		p.printf("%s is speaking", view.RemoteID)
	}
	if describeActivity(view.Activity) != describeActivity(prev.Activity) {
		p.printf("activity: %s", describeActivity(view.Activity))
	}
	if view.Pinned != prev.Pinned {
		p.printf("pinned: %s", pinnedName(view.Pinned))
	}

	live := make(map[int64]bool, len(view.Logs))
	for _, entry := range view.Logs {
		live[entry.ID] = true
		if p.seenLogs[entry.ID] {
			continue
		}
		p.printf("[%s] %s", entry.Severity, entry.Message)
	}
	p.seenLogs = live
}

func (p *Presenter) ShowChat(msg domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stamp := utils.FormatClock(msg.CreatedAt)
	switch {
	case msg.Image != nil:
		p.printf("%s %s shared an image: %s (%d bytes)", stamp, msg.Sender, utils.SanitizeString(msg.FileName), len(msg.Image.Data))
	default:
		p.printf("%s %s: %s", stamp, msg.Sender, utils.TruncateString(utils.SanitizeString(msg.Text), maxChatLine))
	}
}

func (p *Presenter) PlayCue(cue domain.Cue) {
	p.logger.Debugw("cue started", "cue", cue)
	if cue == domain.CueRingtone {
		p.mu.Lock()
		p.printf("ring ring")
		p.mu.Unlock()
	}
}

func (p *Presenter) StopCue(cue domain.Cue) {
	p.logger.Debugw("cue stopped", "cue", cue)
}

func (p *Presenter) printSession(s domain.Session) {
	switch s.Status {
	case domain.StatusLoggedIn:
		p.printf("logged in as %s (#%s)", s.DisplayName, s.Discriminator())
	case domain.StatusError:
		p.printf("login failed: %s", s.LoginError)
	default:
		p.printf("session %s", s.Status)
	}
}

func (p *Presenter) printPhase(view domain.View) {
	switch view.Phase {
	case domain.PhaseDialing:
		p.printf("calling %s...", view.RemoteID)
	case domain.PhaseRingingInbound:
	case domain.PhaseConnected:
		p.printf("in call with %s", view.RemoteID)
	case domain.PhaseEnded:
		p.printf("call ended")
	}
}

func (p *Presenter) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func describeStatus(s domain.StatusSnapshot) string {
	var parts []string
	if s.Muted {
		parts = append(parts, "muted")
	}
	if s.Deafened {
		parts = append(parts, "deafened")
	}
	if s.VideoEnabled {
		parts = append(parts, "camera on")
	}
	if s.ScreenSharing {
		parts = append(parts, "sharing screen")
	}
	if len(parts) == 0 {
		return "connected"
	}
	return strings.Join(parts, ", ")
}

func describeActivity(a *domain.ActivitySession) string {
	switch {
	case a == nil:
		return "none"
	case a.Youtube != nil:
		return fmt.Sprintf("watching %s", a.Youtube.VideoID)
	case a.Music != nil:
		state := "paused"
		if a.Music.IsPlaying {
			state = "playing"
		}
		return fmt.Sprintf("radio track %d (%s)", a.Music.TrackIndex+1, state)
	default:
		return string(a.Kind)
	}
}

func pinnedName(v domain.PinnedView) string {
	if v == domain.PinnedNone {
		return "none"
	}
	return string(v)
}
