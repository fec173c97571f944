package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arcatch.ai/internal/protocol"
)

// Info is the static session description sent in WELCOME.
type Info struct {
	SessionID     string
	Params        protocol.SessionParams
	CatalogDigest string
	Creatures     []string
}

type Config struct {
	Hub  *Hub
	Info Info

	// Status, when set, is pushed to every observer each StatusEvery.
	Status      func() protocol.StatusMsg
	StatusEvery time.Duration

	// QueueSize bounds each observer's outbound queue.
	QueueSize   int
	AllowRemote bool
	Logger      *log.Logger
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	if cfg.Hub == nil {
		cfg.Hub = NewHub(0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = time.Second
	}
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Hub() *Hub { return s.cfg.Hub }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.cfg.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}
		c, backlog, cursor := s.cfg.Hub.join(hello.SinceCursor, hello.Kinds, s.cfg.QueueSize)
		defer s.cfg.Hub.leave(c)
		s.printf("observer joined id=%d name=%q since=%d backlog=%d", c.id, hello.ClientName, hello.SinceCursor, len(backlog))

		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       s.cfg.Info.SessionID,
			Params:          s.cfg.Info.Params,
			CatalogDigest:   s.cfg.Info.CatalogDigest,
			Creatures:       s.cfg.Info.Creatures,
			Cursor:          cursor,
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		if len(backlog) > 0 {
			batch := protocol.EventBatchMsg{
				Type:            protocol.TypeEventBatch,
				ProtocolVersion: protocol.Version,
				Events:          backlog,
				NextCursor:      cursor,
			}
			if err := writeJSON(conn, batch); err != nil {
				return
			}
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			var statusC <-chan time.Time
			if s.cfg.Status != nil {
				t := time.NewTicker(s.cfg.StatusEvery)
				defer t.Stop()
				statusC = t.C
			}
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				case <-statusC:
					if err := writeJSON(conn, s.cfg.Status()); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: observers only send keepalives; any read error ends the stream.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		cancel()
		<-writeDone
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.printf("observer left id=%d dropped=%d", c.id, c.dropped.Load())
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.HelloMsg{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return protocol.HelloMsg{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, fmt.Sprintf("bad protocol_version %q", hello.ProtocolVersion))
		return protocol.HelloMsg{}, false
	}
	if hello.ClientName == "" {
		hello.ClientName = "observer"
	}
	return hello, true
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
