package protocol

import (
	"encoding/binary"
	"fmt"
)

// DefaultMaxFrameSize caps a single frame body (files travel in one frame).
const DefaultMaxFrameSize uint32 = 512 * 1024 * 1024

// Decoder reassembles frames from an arbitrary chunked byte stream.
// It is owned by one connection reader and needs no locking.
type Decoder struct {
	buf     []byte
	maxSize uint32
}

func NewDecoder(maxSize uint32) *Decoder {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{maxSize: maxSize}
}

// Write appends received bytes to the internal buffer.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the body of the next complete frame.
// ok is false until length+4 bytes are buffered. A declared length above the
// limit is fatal for the stream: the caller must drop the connection.
func (d *Decoder) Next() (body []byte, ok bool, err error) {
	if len(d.buf) < LengthSize {
		return nil, false, nil
	}

	length := binary.BigEndian.Uint32(d.buf[:LengthSize])
	if length > d.maxSize {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, d.maxSize)
	}

	total := LengthSize + int(length)
	if len(d.buf) < total {
		return nil, false, nil
	}

	body = make([]byte, length)
	copy(body, d.buf[LengthSize:total])

	// сдвигаем буфер, чтобы не держать уже разобранные кадры
	rest := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:rest]

	return body, true, nil
}

// Buffered reports how many bytes wait for the rest of their frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
