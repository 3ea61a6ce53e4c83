package protocol

import (
	"errors"
	"fmt"
	"time"
)

// DefaultPresenceGroup is the multicast group used for presence announcements.
const DefaultPresenceGroup = "239.255.43.21"

// PresenceTimeLayout is the timestamp format written into presence datagrams.
const PresenceTimeLayout = time.RFC3339

var ErrEmptyPresenceField = errors.New("presence datagram has an empty field")

// Presence is the "I exist" datagram: timestamp + hostname.
type Presence struct {
	Timestamp string
	Hostname  string
}

func NewPresence(now time.Time, hostname string) Presence {
	return Presence{
		Timestamp: now.Format(PresenceTimeLayout),
		Hostname:  hostname,
	}
}

// EncodePresence writes two length-prefixed strings, no frame header.
func EncodePresence(p Presence) []byte {
	// у датаграммы нет заголовка кадра: пропускаем длину и тип
	return encode(0, []byte(p.Timestamp), []byte(p.Hostname))[LengthSize+1:]
}

// DecodePresence parses and validates a presence datagram.
func DecodePresence(b []byte) (Presence, error) {
	r := &fieldReader{buf: b}

	ts, err := r.readString()
	if err != nil {
		return Presence{}, fmt.Errorf("presence timestamp: %w", err)
	}
	host, err := r.readString()
	if err != nil {
		return Presence{}, fmt.Errorf("presence hostname: %w", err)
	}

	p := Presence{Timestamp: ts, Hostname: host}
	if err := p.Validate(); err != nil {
		return Presence{}, err
	}
	return p, nil
}

func (p Presence) Validate() error {
	if p.Timestamp == "" || p.Hostname == "" {
		return ErrEmptyPresenceField
	}
	return nil
}
