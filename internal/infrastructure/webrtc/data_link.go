package webrtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"

	"peercord/internal/core/domain"
)

var errChannelNotOpen = errors.New("data channel not open")

// dataLink carries text messages over a single ordered data channel. Messages
// that arrive before OnData is set are held and replayed to the handler.
type dataLink struct {
	conn *connection

	mu      sync.Mutex
	dc      *webrtc.DataChannel
	open    bool
	closed  bool
	pending [][]byte
	onOpen  func()
	onData  func([]byte)
	onClose func()
}

func newDataLink(conn *connection) *dataLink {
	l := &dataLink{conn: conn}
	conn.whenClosed(l.finish)
	return l
}

// attach binds the negotiated channel to the link.
func (l *dataLink) attach(dc *webrtc.DataChannel) {
	l.mu.Lock()
	if l.dc != nil || l.closed {
		l.mu.Unlock()
		dc.Close()
		return
	}
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.mu.Lock()
		l.open = true
		fn := l.onOpen
		l.mu.Unlock()

		l.conn.logger.Infow("data channel opened", "label", dc.Label())
		if fn != nil {
			fn()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		fn := l.onData
		if fn == nil {
			l.pending = append(l.pending, msg.Data)
		}
		l.mu.Unlock()

		if fn != nil {
			fn(msg.Data)
		}
	})

	dc.OnClose(func() {
		l.conn.close(true)
	})
}

func (l *dataLink) Peer() domain.PeerID { return l.conn.remote }

func (l *dataLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open && !l.closed
}

func (l *dataLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.dc
	ok := l.open && !l.closed
	l.mu.Unlock()

	if !ok || dc == nil {
		return errChannelNotOpen
	}
	return dc.SendText(string(data))
}

// OnOpen sets the open handler; it runs immediately when the channel is
// already open.
func (l *dataLink) OnOpen(fn func()) {
	l.mu.Lock()
	l.onOpen = fn
	open := l.open && !l.closed
	l.mu.Unlock()

	if open && fn != nil {
		fn()
	}
}

func (l *dataLink) OnData(fn func(data []byte)) {
	l.mu.Lock()
	l.onData = fn
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	if fn == nil {
		return
	}
	for _, data := range pending {
		fn(data)
	}
}

func (l *dataLink) OnClose(fn func()) {
	l.mu.Lock()
	l.onClose = fn
	closed := l.closed
	l.mu.Unlock()

	if closed && fn != nil {
		fn()
	}
}

func (l *dataLink) Close() error {
	l.conn.close(true)
	return nil
}

func (l *dataLink) finish() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.open = false
	fn := l.onClose
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
}
