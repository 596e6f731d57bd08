package stream

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol"
)

// PacketReader reads stream packets. Strings and byte fields carry a 4 byte
// big endian length prefix.
type PacketReader struct {
	r *bufio.Reader
}

// NewPacketReader creates a new packet reader
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: bufio.NewReader(r)}
}

// ReadByte reads a single byte
func (r *PacketReader) ReadByte() (byte, error) {
	return r.r.ReadByte()
}

// ReadUint32 reads a 32-bit unsigned integer (big endian)
func (r *PacketReader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadBytes reads bytes with length prefix
func (r *PacketReader) ReadBytes() ([]byte, error) {
	length, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if length > MaxFrameSize {
		return nil, errors.New(ErrFrameTooLarge, "field exceeds frame size limit", nil).
			AddContext("length", strconv.FormatUint(uint64(length), 10))
	}
	if length == 0 {
		return nil, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a string with length prefix
func (r *PacketReader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

// ReadFrame reads the body of a request or response packet: compression,
// info, then the payload.
func (r *PacketReader) ReadFrame() (protocol.Frame, error) {
	var f protocol.Frame
	var err error
	if f.Compression, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.Info, err = r.ReadString(); err != nil {
		return f, err
	}
	if f.Body, err = r.ReadBytes(); err != nil {
		return f, err
	}
	return f, nil
}

// PacketWriter writes stream packets. Nothing reaches the connection until
// Flush.
type PacketWriter struct {
	w *bufio.Writer
}

// NewPacketWriter creates a new packet writer
func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: bufio.NewWriter(w)}
}

// WriteByte writes a single byte
func (w *PacketWriter) WriteByte(b byte) error {
	return w.w.WriteByte(b)
}

// WriteUint32 writes a 32-bit unsigned integer (big endian)
func (w *PacketWriter) WriteUint32(n uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteBytes writes bytes with length prefix
func (w *PacketWriter) WriteBytes(data []byte) error {
	if err := w.WriteUint32(uint32(len(data))); err != nil {
		return err
	}
	_, err := w.w.Write(data)
	return err
}

// WriteString writes a string with length prefix
func (w *PacketWriter) WriteString(s string) error {
	if err := w.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	_, err := w.w.WriteString(s)
	return err
}

// WritePacket writes a typed packet carrying a frame.
func (w *PacketWriter) WritePacket(packetType byte, f protocol.Frame) error {
	if err := w.WriteByte(packetType); err != nil {
		return err
	}
	if err := w.WriteString(f.Compression); err != nil {
		return err
	}
	if err := w.WriteString(f.Info); err != nil {
		return err
	}
	return w.WriteBytes(f.Body)
}

// Flush sends buffered packets.
func (w *PacketWriter) Flush() error {
	return w.w.Flush()
}
