package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cocomeza/alcontruccionessrl/gallery"
	"github.com/cocomeza/alcontruccionessrl/store"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	WebsocketSubprotocolMagicV1 = "obras_gallery_v1"
	ErrInvalidObraID            = "Error: Invalid obra ID"
	ErrEmptyGallery             = "Error: Obra has no media"
	ErrInvalidIndex             = "Error: Invalid media index"
)

const (
	wsReadBufferSize     = 1024
	wsWriteBufferSize    = 1024
	wsReadLimit          = 4096
	sessionSendQueueSize = 32
	sessionRecvQueueSize = 32
	doCheckSubprotocol   = true
)

const (
	HeartbeatTimeout = 60 * time.Second
	WriteWait        = 10 * time.Second
)

// ViewerSession is one open gallery viewer driven over a websocket. The
// viewer is only touched by the HandleViewer goroutine.
type ViewerSession struct {
	ID           string
	obra         *store.Project
	conn         *websocket.Conn
	recvQueue    chan *Message
	sendQueue    chan *Message
	closing      chan struct{}
	closingGuard sync.Once
	server       *Server
	viewer       *gallery.Viewer
}

var wsUpgrader = GetWSUpgrader()

// GetWSUpgrader return the websocket upgrader for gallery sessions
func GetWSUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		Subprotocols: []string{
			WebsocketSubprotocolMagicV1,
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		}, //disable origin check
	}
}

// NewViewerSession creates a session wrapper for an upgraded connection
func NewViewerSession(id string, obra *store.Project, conn *websocket.Conn, server *Server) *ViewerSession {
	return &ViewerSession{
		ID:        id,
		obra:      obra,
		conn:      conn,
		recvQueue: make(chan *Message, sessionRecvQueueSize),
		sendQueue: make(chan *Message, sessionSendQueueSize),
		closing:   make(chan struct{}),
		server:    server,
	}
}

// GetRemoteAddr returns the peer address of the session's connection
func (c *ViewerSession) GetRemoteAddr() string { return c.conn.RemoteAddr().String() }

// SendMessage queues m for the send goroutine. Messages sent after the
// session started closing are dropped.
func (c *ViewerSession) SendMessage(m *Message) {
	select {
	case c.sendQueue <- m:
	case <-c.closing:
	}
}

func (c *ViewerSession) shutdown() {
	c.closingGuard.Do(func() { close(c.closing) })
}

// the goroutine that runs this function reads from c.conn
func (c *ViewerSession) HandleWSClientRecv() {
	defer func() {
		c.shutdown()
		close(c.recvQueue)
	}()
	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("Error unexpected closure: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
		var msg Message
		if err := Deserialise(b, &msg); err != nil {
			log.Println("Invalid message:", string(b))
			continue
		}
		msg.Sender = c.ID
		select {
		case c.recvQueue <- &msg:
		case <-c.closing:
			return
		}
	}
}

// the goroutine that runs this function writes to c.conn
func (c *ViewerSession) HandleWSClientSend() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendQueue:
			if msg.Type == MessageTypePong {
				// compute the service time
				p := msg.Payload.(*PongMessage)
				p.SvcTime = time.Since(msg.ReceivedAt).Seconds()
			}
			b, _ := msg.Serialise()
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.shutdown()
				return
			}
		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// the goroutine that runs this function owns c.viewer
func (c *ViewerSession) HandleViewer(index int, kind gallery.MediaKind) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.viewer.Close()
		c.server.removeSession(c)
		log.Printf("viewer session %s closed", c.ID)
	}()

	c.SendMessage(&Message{
		Type: MessageTypeHello,
		Payload: &HelloMessage{
			SessionID: c.ID,
			ObraID:    c.obra.ID,
			Title:     c.obra.Title,
		}})
	c.viewer = gallery.New(gallery.Options{
		Images:       c.obra.Images,
		Videos:       c.obra.Videos,
		InitialIndex: index,
		InitialKind:  kind,
		Player:       &remotePlayer{send: c.SendMessage},
		OnClose: func() {
			c.SendMessage(&Message{
				Type:    MessageTypeClosed,
				Payload: &ClosedMessage{Index: c.viewer.Index()},
			})
		},
		OnError: func(e gallery.MediaError) {
			log.Printf("obra %s: %v", c.obra.ID, e)
		},
	})
	c.sendState()

	for {
		select {
		case m, ok := <-c.recvQueue:
			if !ok {
				return
			}
			if c.handleMessage(ctx, m) {
				c.sendState()
			}
		case <-c.closing:
			return
		}
	}
}

// handleMessage applies m to the viewer and reports whether the state
// may have changed.
func (c *ViewerSession) handleMessage(ctx context.Context, m *Message) bool {
	v := c.viewer
	switch m.Type {
	case MessageTypePing:
		p := m.Payload.(*PingMessage)
		c.SendMessage(&Message{
			ReceivedAt: m.ReceivedAt,
			Type:       MessageTypePong,
			Payload: &PongMessage{
				Timestamp: p.Timestamp,
			},
		})
		return false
	case MessageTypeKey:
		p := m.Payload.(*KeyMessage)
		handled, _ := v.HandleKey(ctx, gallery.NormalizeKey(p.Key))
		return handled
	case MessageTypeJump:
		v.JumpTo(m.Payload.(*JumpMessage).Index)
	case MessageTypeReopen:
		p := m.Payload.(*ReopenMessage)
		kind, ok := gallery.ParseMediaKind(p.Kind)
		if !ok {
			log.Printf("session %s: invalid media kind %q", c.ID, p.Kind)
			return false
		}
		v.Reopen(p.Index, kind)
	case MessageTypeClose:
		v.Close()
	case MessageTypeSeek:
		if err := v.Playback().Seek(m.Payload.(*SeekMessage).Time); err != nil {
			log.Printf("session %s: seek: %v", c.ID, err)
		}
	case MessageTypeVolume:
		if err := v.Playback().SetVolume(m.Payload.(*LevelMessage).Value); err != nil {
			log.Printf("session %s: volume: %v", c.ID, err)
		}
	case MessageTypeRate:
		if err := v.Playback().SetRate(m.Payload.(*LevelMessage).Value); err != nil {
			log.Printf("session %s: %v", c.ID, err)
			return false
		}
	case MessageTypeMedia:
		return c.handleMediaEvent(m.Payload.(*MediaEventMessage))
	default:
		// silently drop the message
		return false
	}
	return true
}

func (c *ViewerSession) handleMediaEvent(p *MediaEventMessage) bool {
	v := c.viewer
	if p.Event == MediaEventError {
		reason := p.Reason
		if reason == "" {
			reason = "media element error"
		}
		v.MediaFailed(p.Index, errors.New(reason))
		return true
	}
	// events of an element that was already swapped out
	if v.Closed() || p.Index != v.Index() {
		return false
	}
	pb := v.Playback()
	switch p.Event {
	case MediaEventTimeUpdate:
		pb.TimeUpdate(p.Time)
	case MediaEventLoadedMetadata:
		pb.LoadedMetadata(p.Duration)
	case MediaEventEnded:
		pb.Ended()
	case MediaEventPlayRejected:
		pb.PlayRejected()
	default:
		return false
	}
	return true
}

func (c *ViewerSession) sendState() {
	c.SendMessage(&Message{
		Type: MessageTypeState,
		Payload: &StateMessage{
			State:    c.viewer.State(),
			Controls: c.viewer.Controls(),
		},
	})
}

type ErrSessionConnect int

const (
	ErrSessionConnectBadObraID ErrSessionConnect = iota
	ErrSessionConnectEmptyGallery
	ErrSessionConnectBadIndex
)

func (e ErrSessionConnect) Error() string {
	switch e {
	case ErrSessionConnectBadObraID:
		return ErrInvalidObraID
	case ErrSessionConnectEmptyGallery:
		return ErrEmptyGallery
	case ErrSessionConnectBadIndex:
		return ErrInvalidIndex
	default:
		return "Unknown connect error"
	}
}

func (e ErrSessionConnect) status() int {
	if e == ErrSessionConnectBadIndex {
		return http.StatusBadRequest
	}
	return http.StatusNotFound
}

func checkValidSession(ctx context.Context, s *Server, obraID, index, kind string) (*store.Project, int, gallery.MediaKind, error) {
	if obraID == "" {
		return nil, 0, gallery.MediaKindImage, ErrSessionConnectBadObraID
	}
	idx := 0
	if index != "" {
		// out of range values are clamped by the viewer like on the page
		i, err := strconv.Atoi(index)
		if err != nil {
			return nil, 0, gallery.MediaKindImage, ErrSessionConnectBadIndex
		}
		idx = i
	}
	k, ok := gallery.ParseMediaKind(kind)
	if !ok {
		return nil, 0, gallery.MediaKindImage, ErrSessionConnectBadIndex
	}
	p, err := s.projects.Get(ctx, obraID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("load obra %s: %v", obraID, err)
		}
		return nil, 0, k, ErrSessionConnectBadObraID
	}
	if len(p.Images)+len(p.Videos) == 0 {
		return nil, 0, k, ErrSessionConnectEmptyGallery
	}
	return p, idx, k, nil
}

func handleWSClient(s *Server, w http.ResponseWriter, r *http.Request) {

	// parse query string and check if the obra has a gallery
	q := r.URL.Query()
	obra, index, kind, err := checkValidSession(r.Context(), s, q.Get("obra"), q.Get("index"), q.Get("kind"))

	if err != nil {
		log.Printf("viewer from %v fails to connect: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), err.(ErrSessionConnect).status())
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	if doCheckSubprotocol && conn.Subprotocol() != WebsocketSubprotocolMagicV1 {
		conn.WriteMessage(websocket.CloseMessage, []byte("unsupported subprotocol version"))
		conn.Close()
		return
	}

	sid := xid.New().String()
	session := NewViewerSession(sid, obra, conn, s)
	s.addSession(session)

	go session.HandleViewer(index, kind)
	go session.HandleWSClientSend()
	go session.HandleWSClientRecv()

	log.Printf("viewer session %s from %s opened obra %s", sid, session.GetRemoteAddr(), obra.ID)
}

// GetGalleryWSHandleFunc returns the websocket handle function for the server
func GetGalleryWSHandleFunc(server *Server) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(server, w, r)
	}
}
