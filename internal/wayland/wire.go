// Package wayland is a minimal client for the Wayland wire protocol: enough to
// discover globals, bind them, and exchange messages without file descriptors.
package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const headerSize = 8

// MaxMessageSize is the largest message the wire format can describe.
const MaxMessageSize = 1<<16 - 1

var ErrShortMessage = errors.New("wayland: short message")

// Message is one decoded request or event.
type Message struct {
	Sender uint32
	Opcode uint16
	Body   []byte
}

// NewMessage starts a message from sender with opcode.
func NewMessage(sender uint32, opcode uint16) *Message {
	return &Message{Sender: sender, Opcode: opcode}
}

// PutUint appends a uint, object, or new_id argument.
func (m *Message) PutUint(v uint32) *Message {
	m.Body = binary.NativeEndian.AppendUint32(m.Body, v)
	return m
}

// PutInt appends an int argument.
func (m *Message) PutInt(v int32) *Message {
	return m.PutUint(uint32(v))
}

// PutString appends a NUL-terminated, padded string argument.
func (m *Message) PutString(s string) *Message {
	m.PutUint(uint32(len(s) + 1))
	m.Body = append(m.Body, s...)
	m.Body = append(m.Body, 0)
	m.pad()
	return m
}

// PutArray appends a length-prefixed, padded array argument.
func (m *Message) PutArray(b []byte) *Message {
	m.PutUint(uint32(len(b)))
	m.Body = append(m.Body, b...)
	m.pad()
	return m
}

func (m *Message) pad() {
	for len(m.Body)%4 != 0 {
		m.Body = append(m.Body, 0)
	}
}

// Marshal encodes the message with its header.
func (m *Message) Marshal() ([]byte, error) {
	size := headerSize + len(m.Body)
	if size > MaxMessageSize {
		return nil, fmt.Errorf("wayland: message of %d bytes exceeds wire limit", size)
	}
	out := make([]byte, 0, size)
	out = binary.NativeEndian.AppendUint32(out, m.Sender)
	out = binary.NativeEndian.AppendUint32(out, uint32(size)<<16|uint32(m.Opcode))
	return append(out, m.Body...), nil
}

// Decoder reads arguments from a message body in order.
type Decoder struct {
	body []byte
	err  error
}

// Args returns a decoder over the message arguments.
func (m Message) Args() *Decoder {
	return &Decoder{body: m.Body}
}

// Err reports the first decoding failure.
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) Uint() uint32 {
	if d.err != nil {
		return 0
	}
	if len(d.body) < 4 {
		d.err = ErrShortMessage
		return 0
	}
	v := binary.NativeEndian.Uint32(d.body)
	d.body = d.body[4:]
	return v
}

func (d *Decoder) Int() int32 {
	return int32(d.Uint())
}

// String decodes a string argument; a zero length is a null string.
func (d *Decoder) String() string {
	b := d.Array()
	if len(b) == 0 {
		return ""
	}
	if b[len(b)-1] != 0 {
		d.err = errors.New("wayland: string missing terminator")
		return ""
	}
	return string(b[:len(b)-1])
}

func (d *Decoder) Array() []byte {
	n := d.Uint()
	if d.err != nil || n == 0 {
		return nil
	}
	padded := (int(n) + 3) &^ 3
	if padded > len(d.body) {
		d.err = ErrShortMessage
		return nil
	}
	out := d.body[:n]
	d.body = d.body[padded:]
	return out
}

func parseHeader(header []byte) (sender uint32, opcode uint16, size int) {
	sender = binary.NativeEndian.Uint32(header[0:4])
	word := binary.NativeEndian.Uint32(header[4:8])
	return sender, uint16(word & 0xffff), int(word >> 16)
}
