package netadapter

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/pkg/errors"
)

// ErrFrameTooLarge is returned when a peer's frame length prefix
// exceeds the configured maximum, before any payload is allocated or
// read (spec.md §4.8 inbound discipline step 1, §6 "oversize frames
// are dropped and peer penalized before allocation").
var ErrFrameTooLarge = errors.New("frame exceeds maximum message size")

// Connection wraps a single TCP socket with emberd's wire framing:
// a 4-byte little-endian length prefix, a 1-byte command tag, then the
// command's canonically-encoded payload (spec.md §6).
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	codec  Codec
	params *chaincfg.Params

	writeMu sync.Mutex

	disconnectOnce sync.Once
	onDisconnected func()
}

// NewConnection wraps conn with emberd's framing, bounded by params'
// MaxMessageBytes.
func NewConnection(conn net.Conn, codec Codec, params *chaincfg.Params) *Connection {
	return &Connection{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		codec:  codec,
		params: params,
	}
}

// RemoteAddr returns the underlying socket's remote address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetOnDisconnectedHandler registers a callback fired exactly once
// when the connection is closed, by either side.
func (c *Connection) SetOnDisconnectedHandler(handler func()) {
	c.onDisconnected = handler
}

// Disconnect closes the underlying socket, invoking the disconnect
// handler at most once regardless of how many times Disconnect or a
// read/write failure triggers it.
func (c *Connection) Disconnect() error {
	var err error
	c.disconnectOnce.Do(func() {
		err = c.conn.Close()
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	})
	return err
}

// Send frames and writes msg to the peer. Safe for concurrent use;
// writes are serialized so two goroutines sending never interleave
// frames on the wire.
func (c *Connection) Send(msg Message) error {
	payload, err := c.codec.Encode(msg)
	if err != nil {
		return errors.Wrap(err, "encoding outbound message")
	}
	if len(payload)+1 > c.params.MaxMessageBytes {
		return errors.Wrapf(ErrFrameTooLarge, "outbound payload is %d bytes, max %d", len(payload), c.params.MaxMessageBytes)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header [5]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)+1))
	header[4] = byte(msg.Command())
	if _, err := c.conn.Write(header[:]); err != nil {
		return errors.Wrap(err, "writing frame header")
	}
	if _, err := c.conn.Write(payload); err != nil {
		return errors.Wrap(err, "writing frame payload")
	}
	return nil
}

// Receive reads and decodes the next framed message. It enforces the
// size check before allocating a payload buffer (spec.md §4.8
// inbound-discipline step 1).
func (c *Connection) Receive() (Message, error) {
	var header [5]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, err
	}
	frameLen := binary.LittleEndian.Uint32(header[0:4])
	if int(frameLen) > c.params.MaxMessageBytes {
		return nil, errors.Wrapf(ErrFrameTooLarge, "frame is %d bytes, max %d", frameLen, c.params.MaxMessageBytes)
	}
	if frameLen == 0 {
		return nil, errors.New("frame length must include at least the command byte")
	}
	command := MessageCommand(header[4])

	payload := make([]byte, frameLen-1)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}
	msg, err := c.codec.Decode(command, payload)
	if err != nil {
		return nil, errors.Wrap(err, "decoding frame payload")
	}
	return msg, nil
}
