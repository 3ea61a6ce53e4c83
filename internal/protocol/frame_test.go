package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeWhole(t *testing.T, raw []byte) *Frame {
	t.Helper()

	d := NewDecoder(0)
	_, err := d.Write(raw)
	require.NoError(t, err)

	body, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok, "frame should be complete")
	assert.Zero(t, d.Buffered())

	frame, err := DecodeFrame(body)
	require.NoError(t, err)
	return frame
}

func TestTextFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{name: "empty message", message: ""},
		{name: "ascii", message: "hello"},
		{name: "multi-byte characters", message: "привет, 世界 👋"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeText(tt.message)

			length := binary.BigEndian.Uint32(raw[:LengthSize])
			assert.Equal(t, len(raw)-LengthSize, int(length), "length covers everything after itself")
			assert.Equal(t, byte(TypeText), raw[LengthSize])

			frame := decodeWhole(t, raw)
			assert.Equal(t, TypeText, frame.Type)
			assert.Equal(t, tt.message, frame.Text)
		})
	}
}

func TestFileFrameRoundTrip(t *testing.T) {
	raw := EncodeFile("a.txt", []byte{0x00, 0xFF, 0x10})

	frame := decodeWhole(t, raw)
	assert.Equal(t, TypeFile, frame.Type)
	assert.Equal(t, "a.txt", frame.FileName)
	assert.Equal(t, []byte{0x00, 0xFF, 0x10}, frame.Data)
}

func TestDecoder_PartialFrames(t *testing.T) {
	raw := append(EncodeText("first"), EncodeFile("b.bin", []byte("payload"))...)

	d := NewDecoder(0)
	var frames []*Frame

	// по одному байту, как при медленном соединении
	for _, b := range raw {
		_, _ = d.Write([]byte{b})
		for {
			body, ok, err := d.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			frame, err := DecodeFrame(body)
			require.NoError(t, err)
			frames = append(frames, frame)
		}
	}

	require.Len(t, frames, 2)
	assert.Equal(t, "first", frames[0].Text)
	assert.Equal(t, "b.bin", frames[1].FileName)
	assert.Equal(t, []byte("payload"), frames[1].Data)
	assert.Zero(t, d.Buffered())
}

func TestDecoder_UnknownTypeKeepsStreamInSync(t *testing.T) {
	unknown := []byte{0, 0, 0, 4, 0x07, 0xAA, 0xBB, 0xCC}
	raw := append(unknown, EncodeText("after")...)

	d := NewDecoder(0)
	_, _ = d.Write(raw)

	body, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)

	frame, err := DecodeFrame(body)
	assert.ErrorIs(t, err, ErrUnknownType)
	require.NotNil(t, frame)
	assert.Equal(t, MessageType(7), frame.Type)

	body, ok, err = d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	frame, err = DecodeFrame(body)
	require.NoError(t, err)
	assert.Equal(t, "after", frame.Text)
}

func TestDecoder_FrameTooLarge(t *testing.T) {
	d := NewDecoder(16)

	header := make([]byte, LengthSize)
	binary.BigEndian.PutUint32(header, 17)
	_, _ = d.Write(header)

	_, ok, err := d.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want error
	}{
		{name: "empty body", body: nil, want: ErrEmptyFrame},
		{name: "text without length", body: []byte{byte(TypeText), 0, 0}, want: ErrShortFrame},
		{name: "text length beyond body", body: []byte{byte(TypeText), 0, 0, 0, 9, 'a'}, want: ErrFieldTooLarge},
		{name: "file without blob", body: append([]byte{byte(TypeFile)}, 0, 0, 0, 1, 'a'), want: ErrShortFrame},
		{name: "trailing bytes", body: append(EncodeText("x")[LengthSize:], 0x01), want: ErrTrailingData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.body)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeFrame_NullStringIsEmpty(t *testing.T) {
	body := []byte{byte(TypeText), 0xFF, 0xFF, 0xFF, 0xFF}

	frame, err := DecodeFrame(body)
	require.NoError(t, err)
	assert.Equal(t, "", frame.Text)
}

func TestPresenceRoundTrip(t *testing.T) {
	p := Presence{Timestamp: "2024-05-01T10:00:00Z", Hostname: "alpha"}

	got, err := DecodePresence(EncodePresence(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodePresence_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty hostname", data: EncodePresence(Presence{Timestamp: "now"}), want: ErrEmptyPresenceField},
		{name: "empty timestamp", data: EncodePresence(Presence{Hostname: "alpha"}), want: ErrEmptyPresenceField},
		{name: "garbage", data: []byte{0x01, 0x02}, want: ErrShortFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePresence(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
