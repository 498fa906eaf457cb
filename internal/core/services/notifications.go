package services

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"peercord/internal/core/domain"
)

// Notifier keeps the transient toast list. Entries expire after ttl; expiry is
// delivered back through post so the list is only touched on the loop.
type Notifier struct {
	clock   clock.Clock
	ttl     time.Duration
	post    func(func()) bool
	logger  *zap.SugaredLogger
	nextID  int64
	entries []domain.LogEntry
	timers  map[int64]*clock.Timer
}

func NewNotifier(clk clock.Clock, ttl time.Duration, post func(func()) bool, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		clock:  clk,
		ttl:    ttl,
		post:   post,
		logger: logger,
		timers: make(map[int64]*clock.Timer),
	}
}

func (n *Notifier) Info(msg string)    { n.add(domain.SeverityInfo, msg) }
func (n *Notifier) Error(msg string)   { n.add(domain.SeverityError, msg) }
func (n *Notifier) Success(msg string) { n.add(domain.SeveritySuccess, msg) }

func (n *Notifier) add(sev domain.Severity, msg string) {
	n.nextID++
	id := n.nextID
	n.entries = append(n.entries, domain.LogEntry{
		ID:        id,
		Message:   msg,
		Severity:  sev,
		CreatedAt: n.clock.Now(),
	})

	switch sev {
	case domain.SeverityError:
		n.logger.Warnw(msg, "toast_id", id)
	default:
		n.logger.Infow(msg, "toast_id", id, "severity", sev)
	}

	n.timers[id] = n.clock.AfterFunc(n.ttl, func() {
		n.post(func() { n.expire(id) })
	})
}

func (n *Notifier) expire(id int64) {
	delete(n.timers, id)
	for i, e := range n.entries {
		if e.ID == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			return
		}
	}
}

// Entries returns a copy of the live toasts, oldest first.
func (n *Notifier) Entries() []domain.LogEntry {
	out := make([]domain.LogEntry, len(n.entries))
	copy(out, n.entries)
	return out
}

// Stop cancels pending expiries.
func (n *Notifier) Stop() {
	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
}
