// Package wltest runs an in-process compositor that speaks the Wayland wire format.
package wltest

import (
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pwsw/pwsw/internal/wayland"
)

// Server accepts client connections on a unix socket and answers display and registry requests.
type Server struct {
	Path     string
	listener net.Listener
	globals  []wayland.Global
	clients  chan *Client

	mu   sync.Mutex
	open []*Client
}

// NewServer listens in a temp dir and advertises globals to every client.
func NewServer(t testing.TB, globals ...wayland.Global) *Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wayland-test")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen fake compositor: %v", err)
	}
	s := &Server{Path: path, listener: listener, globals: globals, clients: make(chan *Client, 4)}
	t.Cleanup(s.close)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			c := newClient(conn, s.globals)
			s.mu.Lock()
			s.open = append(s.open, c)
			s.mu.Unlock()
			s.clients <- c
		}
	}()
	return s
}

func (s *Server) close() {
	_ = s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.open {
		c.Close()
	}
}

// Accept waits for the next client connection.
func (s *Server) Accept(t testing.TB) *Client {
	t.Helper()
	select {
	case c := <-s.clients:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

// Client is the server side of one connection.
type Client struct {
	conn    net.Conn
	globals []wayland.Global

	mu       sync.Mutex
	registry uint32
	bound    map[string]uint32
	boundCh  chan string

	requests chan wayland.Message
	once     sync.Once
}

func newClient(conn net.Conn, globals []wayland.Global) *Client {
	c := &Client{
		conn:     conn,
		globals:  globals,
		bound:    make(map[string]uint32),
		boundCh:  make(chan string, 8),
		requests: make(chan wayland.Message, 64),
	}
	go c.serve()
	return c
}

func (c *Client) serve() {
	defer close(c.requests)
	for {
		msg, err := wayland.ReadMessage(c.conn)
		if err != nil {
			return
		}
		switch {
		case msg.Sender == wayland.DisplayID && msg.Opcode == 1:
			registry := msg.Args().Uint()
			c.mu.Lock()
			c.registry = registry
			c.mu.Unlock()
			for _, g := range c.globals {
				_ = c.Send(wayland.NewMessage(registry, wayland.RegistryEventGlobal).
					PutUint(g.Name).PutString(g.Interface).PutUint(g.Version))
			}
		case msg.Sender == wayland.DisplayID && msg.Opcode == 0:
			callback := msg.Args().Uint()
			_ = c.Send(wayland.NewMessage(callback, 0).PutUint(0))
			_ = c.Send(wayland.NewMessage(wayland.DisplayID, 1).PutUint(callback))
		case c.isRegistry(msg.Sender) && msg.Opcode == 0:
			args := msg.Args()
			_ = args.Uint()
			iface := args.String()
			_ = args.Uint()
			id := args.Uint()
			c.mu.Lock()
			c.bound[iface] = id
			c.mu.Unlock()
			c.boundCh <- iface
		default:
			c.requests <- msg
		}
	}
}

func (c *Client) isRegistry(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry != 0 && id == c.registry
}

// WaitBound waits until the client binds iface and returns the client object id.
func (c *Client) WaitBound(t testing.TB, iface string) uint32 {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		id, ok := c.bound[iface]
		c.mu.Unlock()
		if ok {
			return id
		}
		select {
		case <-c.boundCh:
		case <-deadline:
			t.Fatalf("timed out waiting for bind of %s", iface)
			return 0
		}
	}
}

// NextRequest returns the next request not handled by the server itself.
func (c *Client) NextRequest(t testing.TB) (wayland.Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.requests:
		return msg, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client request")
		return wayland.Message{}, false
	}
}

// Send writes an event to the client.
func (c *Client) Send(m *wayland.Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return errors.Join(errors.New("fake compositor write"), err)
	}
	return nil
}

// Close drops the connection.
func (c *Client) Close() {
	c.once.Do(func() { _ = c.conn.Close() })
}
