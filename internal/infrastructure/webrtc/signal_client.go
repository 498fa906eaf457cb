package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peercord/internal/core/domain"
	"peercord/internal/infrastructure/signal"
	"peercord/pkg/retry"
)

const signalWriteTimeout = 10 * time.Second

// signalClient is the transport's websocket to the broker.
type signalClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// dialSignal opens the broker websocket for id, retrying transient failures.
// A handshake the broker refuses (bad token, malformed id) is not retried.
func dialSignal(ctx context.Context, cfg Config, id domain.PeerID) (*signalClient, error) {
	u, err := url.Parse(cfg.SignalURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signal url: %w", err)
	}
	q := u.Query()
	q.Set("peer_id", string(id))
	token := cfg.Token
	if cfg.TokenSource != nil {
		if token, err = cfg.TokenSource(ctx, id); err != nil {
			return nil, fmt.Errorf("obtain identity token: %w", err)
		}
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, err := retry.RetryWithResult(ctx, cfg.Dial, func() (*websocket.Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
				return nil, retry.Permanent(fmt.Errorf("signal server refused session: %s", resp.Status))
			}
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	// The broker pings; answering keeps the read deadline fresh on its side.
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(signalWriteTimeout))
	})

	return &signalClient{conn: conn}, nil
}

func (c *signalClient) send(msg signal.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *signalClient) read() (signal.Message, error) {
	var msg signal.Message
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

func (c *signalClient) close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
