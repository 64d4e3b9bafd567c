package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/muc-session/internal/service"
)

type Rooms interface {
	Get(key string) (*service.RoomSession, bool)
}

// Server отдаёт поток событий комнаты по WebSocket.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	rooms    Rooms
	log      *slog.Logger

	pingEvery time.Duration
}

func NewServer(hub *Hub, rooms Rooms, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:   hub,
		rooms: rooms,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws/rooms/{room}/events
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "room")
	session, ok := s.rooms.Get(key)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, session.Key())
	go s.writeLoop(c)

	// снимок до подписки: события, пришедшие после, придут следом
	_ = c.Send(Message{Type: TypeState, Payload: stateOf(session)})
	s.hub.Add(c)

	s.readLoop(c)

	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		s.log.Debug("ws close failed", "room", c.roomID, "err", err)
	}
}

// readLoop только держит соединение: входящие кадры игнорируются.
func (s *Server) readLoop(c *wsConn) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn   *websocket.Conn
	roomID string
	out    chan Message
	closed chan struct{}
	once   sync.Once
}

func newWsConn(conn *websocket.Conn, roomID string) *wsConn {
	return &wsConn{
		conn:   conn,
		roomID: roomID,
		out:    make(chan Message, 64),
		closed: make(chan struct{}),
	}
}

// Send не блокируется: медленный подписчик теряет события.
func (c *wsConn) Send(msg Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	case c.out <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) RoomID() string { return c.roomID }
