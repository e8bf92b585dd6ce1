package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// reconnect backoff bounds.
const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// Transport is the engine's live WebSocket channel. It dials with the bearer
// token in the query string, feeds every received frame to the push handler,
// and reconnects with exponential backoff after an unexpected drop. Connection
// establishment is guarded so concurrent Connect calls share a single
// in-flight attempt.
type Transport struct {
	wsURL       string
	token       string
	onPush      func(data []byte)
	onReconnect func()

	mu         sync.Mutex
	conn       net.Conn
	connected  bool
	connecting chan struct{} // non-nil while a dial attempt is in flight
	done       chan struct{}
	closeOnce  sync.Once
}

// NewTransport creates a transport for the given ws:// endpoint. onPush is
// invoked from the read loop for every received frame; onReconnect fires
// after a dropped connection is restored, and may be nil.
func NewTransport(wsURL, token string, onPush func(data []byte), onReconnect func()) *Transport {
	return &Transport{
		wsURL:       wsURL,
		token:       token,
		onPush:      onPush,
		onReconnect: onReconnect,
		done:        make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection. A call made while another
// attempt is in flight waits for that attempt instead of dialing twice.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	if t.connecting != nil {
		inflight := t.connecting
		t.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.mu.Lock()
		ok := t.connected
		t.mu.Unlock()
		if ok {
			return nil
		}
		return errors.New("client: shared connect attempt failed")
	}
	inflight := make(chan struct{})
	t.connecting = inflight
	t.mu.Unlock()

	conn, _, _, err := ws.Dial(ctx, t.dialURL())

	t.mu.Lock()
	t.connecting = nil
	close(inflight)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("client: dial %s: %w", t.wsURL, err)
	}
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *Transport) dialURL() string {
	u, err := url.Parse(t.wsURL)
	if err != nil {
		return t.wsURL
	}
	q := u.Query()
	q.Set("token", t.token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Send transmits a JSON message. It fails immediately when disconnected; the
// caller decides whether to fall back to REST.
func (t *Transport) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.New("client: not connected")
	}
	return wsutil.WriteClientMessage(t.conn, ws.OpText, data)
}

// Connected reports whether the live channel is currently up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close shuts the transport down permanently. No reconnection is attempted
// after Close.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.conn != nil {
			err = t.conn.Close()
		}
		t.connected = false
		t.mu.Unlock()
	})
	return err
}

// readLoop drains frames until the connection drops, then hands off to the
// reconnect loop unless the transport was closed deliberately.
func (t *Transport) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			t.mu.Lock()
			t.connected = false
			t.mu.Unlock()

			select {
			case <-t.done:
				return
			default:
			}
			log.Printf("client: connection lost: %v", err)
			go t.reconnectLoop()
			return
		}
		t.onPush(data)
	}
}

// reconnectLoop retries the dial with exponential backoff until it succeeds
// or the transport is closed, then fires the reconnect callback.
func (t *Transport) reconnectLoop() {
	delay := reconnectMinDelay
	for {
		select {
		case <-t.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			log.Printf("client: reconnected to %s", t.wsURL)
			if t.onReconnect != nil {
				t.onReconnect()
			}
			return
		}

		log.Printf("client: reconnect failed, retrying in %s: %v", delay, err)
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}
