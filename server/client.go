package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a headless gallery viewer client. It plays no media: player
// commands are only received, and media events are reported by the caller.
type Client struct {
	conn    *websocket.Conn
	wmu     sync.Mutex // one writer at a time
	Hello   *HelloMessage
	stop    chan bool
	stopped chan bool
}

// ClientSendHeartbeat pings the server every period until Stop is called.
func (c *Client) ClientSendHeartbeat(period time.Duration) {
	var ticker = time.NewTicker(period)
	defer func() {
		ticker.Stop()
		close(c.stopped)
	}()
	for {
		select {
		case <-ticker.C:
			var ping PingMessage
			ping.Timestamp = float64(time.Now().UnixNano()) / 1000000000.0
			if err := c.SendMessage(&Message{
				Type:    MessageTypePing,
				Payload: &ping,
			}); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// SendMessage writes msg to the server.
func (c *Client) SendMessage(msg *Message) error {
	b, _ := msg.Serialise()
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// ReadMessage waits up to timeout for the next server message.
func (c *Client) ReadMessage(timeout time.Duration) (*Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var m Message
	if err := Deserialise(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WaitFor reads messages until one of type t arrives.
func (c *Client) WaitFor(t MessageType, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return nil, fmt.Errorf("timed out waiting for message type %d", t)
		}
		m, err := c.ReadMessage(left)
		if err != nil {
			return nil, err
		}
		if m.Type == t {
			return m, nil
		}
	}
}

// Key sends a key press.
func (c *Client) Key(k string) error {
	return c.SendMessage(&Message{Type: MessageTypeKey, Payload: &KeyMessage{Key: k}})
}

// Jump asks the viewer to show timeline position i.
func (c *Client) Jump(i int) error {
	return c.SendMessage(&Message{Type: MessageTypeJump, Payload: &JumpMessage{Index: i}})
}

// Seek asks for the active video to move to t seconds.
func (c *Client) Seek(t float64) error {
	return c.SendMessage(&Message{Type: MessageTypeSeek, Payload: &SeekMessage{Time: t}})
}

// Volume sets the video volume, 0 to 1.
func (c *Client) Volume(v float64) error {
	return c.SendMessage(&Message{Type: MessageTypeVolume, Payload: &LevelMessage{Value: v}})
}

// Rate sets the video playback rate.
func (c *Client) Rate(r float64) error {
	return c.SendMessage(&Message{Type: MessageTypeRate, Payload: &LevelMessage{Value: r}})
}

// MediaEvent reports an element event for timeline position e.Index.
func (c *Client) MediaEvent(e *MediaEventMessage) error {
	return c.SendMessage(&Message{Type: MessageTypeMedia, Payload: e})
}

// CloseViewer dismisses the viewer without leaving the session.
func (c *Client) CloseViewer() error {
	return c.SendMessage(&Message{Type: MessageTypeClose})
}

// Stop ends the heartbeat, if any, and closes the connection.
func (c *Client) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// Connect opens a viewer session on the gallery of obra at (index, kind)
// and waits for the hello message.
func Connect(dialer *websocket.Dialer, addr string, obra string, index int, kind string) (*Client, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{WebsocketSubprotocolMagicV1},
		}
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("obra", obra)
	q.Set("index", strconv.Itoa(index))
	if kind != "" {
		q.Set("kind", kind)
	}
	u.RawQuery = q.Encode()
	conn, rsp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if rsp != nil {
			return nil, fmt.Errorf("%v (status %d)", err, rsp.StatusCode)
		}
		return nil, err
	}

	c := &Client{
		conn:    conn,
		stop:    make(chan bool),
		stopped: make(chan bool),
	}
	hello, err := c.ReadMessage(10 * time.Second)
	if err == nil && hello.Type != MessageTypeHello {
		err = errors.New("expected hello message")
	}
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
		return nil, err
	}
	c.Hello = hello.Payload.(*HelloMessage)
	return c, nil
}
