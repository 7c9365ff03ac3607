package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// WriteFrame writes one length-delimited frame to w (spec §6).
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [frameLenSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-delimited frame from r, rejecting frames
// larger than MaxFrameSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [frameLenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds MaxFrameSize", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Conn wraps a net.Conn with buffered framing.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

func (c *Conn) Send(m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(c.nc, payload)
}

func (c *Conn) Recv() (Message, error) {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return Message{}, err
	}
	return Decode(payload)
}

func (c *Conn) Close() error { return c.nc.Close() }
