package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/podtasks/internal/models"
	"github.com/desertthunder/podtasks/internal/shared"
	"github.com/gorilla/websocket"
)

// Stream is an open websocket subscription to job envelopes.
type Stream struct {
	conn *websocket.Conn
	once sync.Once
}

// Watch implements [JobsAPI].
func (c *Client) Watch(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return nil, fmt.Errorf("%w: server url: %v", shared.ErrInvalidConfig, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, statusErr(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks for the next envelope. Closing the stream unblocks it.
func (s *Stream) Next() (models.Envelope, error) {
	var env models.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		return models.Envelope{}, err
	}
	return env, nil
}

// Ping sends a text heartbeat the server counts as liveness.
func (s *Stream) Ping() error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
}

// Close sends a close frame and releases the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
