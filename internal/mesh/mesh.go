// Package mesh implements the Meshtastic radio transport. It speaks the
// device stream protocol over TCP or serial, delivers inbound packets on a
// bounded ordered channel, and broadcasts text on a configured channel.
package mesh

import (
	"context"
	"errors"
	"time"
)

// BroadcastAddr is the Meshtastic catch-all destination node number.
const BroadcastAddr uint32 = 0xffffffff

// PacketKind identifies the application payload carried by an inbound
// packet. Only text packets are processed; everything else (telemetry,
// nodeinfo, position, routing) is discarded by the listener.
type PacketKind string

const (
	PacketText    PacketKind = "TEXT_MESSAGE_APP"
	PacketUnknown PacketKind = "UNKNOWN"
)

// Event is one decoded inbound packet.
type Event struct {
	From    uint32
	To      uint32
	Channel uint32
	Kind    PacketKind
	Text    string
	RxTime  time.Time
}

// ErrNotConnected is returned by send operations before a successful
// Connect or after the link has dropped.
var ErrNotConnected = errors.New("mesh transport not connected")

// Transport is the radio connection consumed by the listener loop. The
// listener is the sole owner: no other component writes to the transport
// directly.
//
// Events returns a bounded, ordered channel of inbound packets. The channel
// is closed when the link drops; callers reconnect by calling Connect again.
type Transport interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	SendText(ctx context.Context, channel uint32, text string) error
	NodeNum() uint32
	Close() error
}
