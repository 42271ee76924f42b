package wayland

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DisplayID is the well-known wl_display object.
const DisplayID uint32 = 1

const (
	displaySync        uint16 = 0
	displayGetRegistry uint16 = 1

	displayEventError uint16 = 0

	registryBind uint16 = 0

	RegistryEventGlobal       uint16 = 0
	RegistryEventGlobalRemove uint16 = 1

	callbackEventDone uint16 = 0
)

// ProtocolError is a fatal wl_display.error event.
type ProtocolError struct {
	Object  uint32
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wayland: protocol error on object %d (code %d): %s", e.Object, e.Code, e.Message)
}

// SocketPath resolves the compositor socket from WAYLAND_DISPLAY and XDG_RUNTIME_DIR.
func SocketPath() (string, error) {
	display := strings.TrimSpace(os.Getenv("WAYLAND_DISPLAY"))
	if display == "" {
		display = "wayland-0"
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, display), nil
}

// Conn is a client connection. Reads must come from one goroutine; writes are serialized.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	nextID  uint32
}

// Dial connects to the compositor socket at path.
func Dial(path string) (*Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect wayland socket %q: %w", path, err)
	}
	return NewConn(conn), nil
}

// NewConn wraps an established stream connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: bufio.NewReader(conn), nextID: DisplayID + 1}
}

// NewID allocates the next client-side object id.
func (c *Conn) NewID() uint32 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

// Send writes one message.
func (c *Conn) Send(m *Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("wayland write: %w", err)
	}
	return nil
}

// ReadMessage blocks for the next event. wl_display errors are returned as *ProtocolError.
func (c *Conn) ReadMessage() (Message, error) {
	for {
		msg, err := ReadMessage(c.reader)
		if err != nil {
			return Message{}, err
		}
		if msg.Sender != DisplayID {
			return msg, nil
		}
		if msg.Opcode == displayEventError {
			args := msg.Args()
			return Message{}, &ProtocolError{Object: args.Uint(), Code: args.Uint(), Message: args.String()}
		}
	}
}

// ReadMessage decodes one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	sender, opcode, size := parseHeader(header[:])
	if size < headerSize {
		return Message{}, fmt.Errorf("wayland: invalid message size %d", size)
	}
	body := make([]byte, size-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("wayland read body: %w", err)
	}
	return Message{Sender: sender, Opcode: opcode, Body: body}, nil
}

// Close closes the underlying socket, unblocking ReadMessage.
func (c *Conn) Close() error {
	return c.conn.Close()
}
