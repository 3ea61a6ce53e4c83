// Package protocol defines the framed TCP message format and the UDP presence
// datagram shared by lanlink nodes.
//
// Strings are UTF-8 on the wire (not UTF-16 like QDataStream QString), so
// lanlink does not interoperate with Qt peers.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the one-byte tag that follows the frame length.
type MessageType uint8

const (
	TypeText MessageType = 0 // one string
	TypeFile MessageType = 1 // file name string + raw blob
)

func (t MessageType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeFile:
		return "file"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// LengthSize is the size of the big-endian frame length prefix.
const LengthSize = 4

// nullLength marks a null string/blob, it decodes as empty.
const nullLength = 0xFFFFFFFF

var (
	ErrShortFrame    = errors.New("frame is truncated")
	ErrEmptyFrame    = errors.New("frame has no type byte")
	ErrUnknownType   = errors.New("unknown message type")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrTrailingData  = errors.New("unexpected bytes after payload")
	ErrFieldTooLarge = errors.New("field exceeds remaining payload")
)

// Frame is a decoded message. Only the fields of its Type are set.
type Frame struct {
	Type     MessageType
	Text     string
	FileName string
	Data     []byte
}

// EncodeText builds a complete Text frame, length prefix included.
func EncodeText(message string) []byte {
	return encode(TypeText, []byte(message))
}

// EncodeFile builds a complete File frame. The whole blob is held in memory.
func EncodeFile(fileName string, data []byte) []byte {
	return encode(TypeFile, []byte(fileName), data)
}

func encode(t MessageType, fields ...[]byte) []byte {
	size := LengthSize + 1
	for _, f := range fields {
		size += LengthSize + len(f)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:LengthSize], uint32(size-LengthSize))
	buf[LengthSize] = byte(t)

	off := LengthSize + 1
	for _, f := range fields {
		binary.BigEndian.PutUint32(buf[off:off+LengthSize], uint32(len(f)))
		off += LengthSize
		off += copy(buf[off:], f)
	}
	return buf
}

// DecodeFrame parses a frame body: everything after the length prefix.
// For an unknown type the returned frame carries the tag and the error wraps ErrUnknownType.
func DecodeFrame(body []byte) (*Frame, error) {
	if len(body) == 0 {
		return nil, ErrEmptyFrame
	}

	frame := &Frame{Type: MessageType(body[0])}
	r := &fieldReader{buf: body[1:]}

	switch frame.Type {
	case TypeText:
		text, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("text frame: %w", err)
		}
		frame.Text = text
	case TypeFile:
		name, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("file frame name: %w", err)
		}
		data, err := r.readBytes()
		if err != nil {
			return nil, fmt.Errorf("file frame data: %w", err)
		}
		frame.FileName = name
		frame.Data = data
	default:
		return frame, fmt.Errorf("%w: %d", ErrUnknownType, uint8(frame.Type))
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%s frame: %w (%d)", frame.Type, ErrTrailingData, r.remaining())
	}
	return frame, nil
}

// fieldReader reads uint32-length-prefixed fields.
type fieldReader struct {
	buf []byte
	off int
}

func (r *fieldReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *fieldReader) readBytes() ([]byte, error) {
	if r.remaining() < LengthSize {
		return nil, ErrShortFrame
	}
	n := binary.BigEndian.Uint32(r.buf[r.off : r.off+LengthSize])
	r.off += LengthSize

	if n == nullLength {
		return []byte{}, nil
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, ErrFieldTooLarge
	}

	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *fieldReader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
