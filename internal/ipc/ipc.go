// Package ipc is the daemon's control socket: one JSON request and one JSON
// reply per connection over a unix socket.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocket = "/tmp/murmur.sock"

// Commands understood by the daemon.
const (
	CmdStop    = "stop"
	CmdStatus  = "status"
	CmdPlugins = "plugins"
)

const connTimeout = 5 * time.Second

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type PluginInfo struct {
	Name        string `json:"name"`
	Runtime     string `json:"runtime"`
	Author      string `json:"author,omitempty"`
	Description string `json:"description,omitempty"`
}

type Reply struct {
	OK      bool         `json:"ok"`
	Error   string       `json:"error,omitempty"`
	State   string       `json:"state,omitempty"`
	Plugins []PluginInfo `json:"plugins,omitempty"`
}

// Handler answers one control message.
type Handler func(ctx context.Context, msg ControlMessage) Reply

type Server struct {
	path    string
	ln      net.Listener
	handler Handler
	wg      sync.WaitGroup
	once    sync.Once
}

// Listen binds path, replacing a stale socket file.
func Listen(path string, handler Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("ipc: nil handler")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Server{path: path, ln: ln, handler: handler}, nil
}

// Serve accepts connections until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			log.Warn("control accept failed", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Error: "malformed request"})
		return
	}

	log.Debug("control message", "cmd", msg.Cmd)
	reply := s.handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("control reply failed", "err", err)
	}
}

// Close stops accepting and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ln.Close()
		_ = os.Remove(s.path)
	})
	return err
}

func (s *Server) Path() string { return s.path }

// SendCommand sends cmd to the daemon listening on path and returns its reply.
func SendCommand(ctx context.Context, path, cmd string) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(connTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
