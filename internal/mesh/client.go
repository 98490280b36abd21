package mesh

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	meshtastic "github.com/meshtastic/go/generated"
	"go.bug.st/serial"
	"google.golang.org/protobuf/proto"

	"github.com/desertmesh/meshtraffic/internal/config"
)

const (
	// eventQueueSize bounds the inbound queue between the radio read loop
	// and the listener. The producer blocks when full, so commands arriving
	// mid-transmission are queued in order rather than dropped.
	eventQueueSize = 32

	serialBaudRate   = 115200
	handshakeTimeout = 20 * time.Second
)

// Client is the Meshtastic device transport. It dials the radio over TCP or
// serial, performs the want-config handshake to learn our node number, and
// then pumps decoded inbound packets onto the event channel.
type Client struct {
	cfg config.MeshConfig
	log *slog.Logger

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	events  chan Event
	nodeNum uint32
}

// NewClient creates an unconnected transport for the configured device.
func NewClient(cfg config.MeshConfig, log *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: log.With("component", "mesh_client"),
	}
}

// Connect dials the device, performs the handshake, and starts the read
// loop. On return the transport is ready to send and Events delivers
// inbound packets until the link drops.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", c.cfg.ConnectionType, err)
	}

	reader := bufio.NewReader(conn)
	nodeNum, err := c.handshake(ctx, conn, reader)
	if err != nil {
		conn.Close() //nolint:errcheck
		return fmt.Errorf("device handshake failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.nodeNum = nodeNum
	c.events = make(chan Event, eventQueueSize)
	c.mu.Unlock()

	c.log.Info("Mesh device connected",
		"connection_type", c.cfg.ConnectionType, "node_num", nodeNum)

	go c.readLoop(reader)
	return nil
}

func (c *Client) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	switch c.cfg.ConnectionType {
	case "tcp":
		var d net.Dialer
		addr := net.JoinHostPort(c.cfg.TCPHost, strconv.Itoa(c.cfg.TCPPort))
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "serial":
		port, err := serial.Open(c.cfg.DevicePath, &serial.Mode{BaudRate: serialBaudRate})
		if err != nil {
			return nil, err
		}
		return port, nil
	default:
		return nil, fmt.Errorf("unsupported connection type %q", c.cfg.ConnectionType)
	}
}

// handshake sends want_config_id and drains the device's config dump,
// capturing our node number from MyNodeInfo. The dump ends with an echo of
// the config nonce.
func (c *Client) handshake(ctx context.Context, conn io.ReadWriteCloser, reader *bufio.Reader) (uint32, error) {
	nonce := rand.Uint32()
	if err := writeFrame(conn, &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_WantConfigId{WantConfigId: nonce},
	}); err != nil {
		return 0, err
	}

	// A silent or half-open device leaves readFrame blocked with no way to
	// observe the timeout or cancellation; closing the connection is the
	// only lever that unblocks the read.
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(hsCtx, func() {
		conn.Close() //nolint:errcheck
	})
	defer stop()

	var nodeNum uint32
	for {
		payload, err := readFrame(reader)
		if err != nil {
			if hsCtx.Err() != nil {
				return 0, fmt.Errorf("no config complete within %s: %w", handshakeTimeout, hsCtx.Err())
			}
			return 0, err
		}

		var fromRadio meshtastic.FromRadio
		if err := proto.Unmarshal(payload, &fromRadio); err != nil {
			c.log.Debug("Skipping undecodable frame during handshake", "error", err)
			continue
		}

		if info := fromRadio.GetMyInfo(); info != nil {
			nodeNum = info.GetMyNodeNum()
		}
		if fromRadio.GetConfigCompleteId() == nonce {
			return nodeNum, nil
		}
	}
}

// readLoop decodes frames until the link errors, forwarding text-bearing
// packets to the event channel. The channel close is the disconnect signal
// consumed by the listener.
func (c *Client) readLoop(reader *bufio.Reader) {
	events := c.events
	defer close(events)

	for {
		payload, err := readFrame(reader)
		if err != nil {
			c.log.Warn("Mesh read loop terminated", "error", err)
			return
		}

		var fromRadio meshtastic.FromRadio
		if err := proto.Unmarshal(payload, &fromRadio); err != nil {
			c.log.Debug("Skipping undecodable frame", "error", err)
			continue
		}

		packet := fromRadio.GetPacket()
		if packet == nil {
			continue
		}
		decoded := packet.GetDecoded()
		if decoded == nil {
			// Encrypted for a channel we don't hold the key for.
			continue
		}

		ev := Event{
			From:    packet.GetFrom(),
			To:      packet.GetTo(),
			Channel: packet.GetChannel(),
			Kind:    kindOf(decoded.GetPortnum()),
			RxTime:  time.Unix(int64(packet.GetRxTime()), 0),
		}
		if ev.Kind == PacketText {
			ev.Text = string(decoded.GetPayload())
		}

		events <- ev
	}
}

func kindOf(portnum meshtastic.PortNum) PacketKind {
	if portnum == meshtastic.PortNum_TEXT_MESSAGE_APP {
		return PacketText
	}
	return PacketUnknown
}

// Events returns the inbound packet channel for the current connection.
func (c *Client) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// NodeNum returns our own node number, learned during the handshake. Used
// to discard transmissions the radio echoes back to us.
func (c *Client) NodeNum() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeNum
}

// SendText broadcasts text on the given channel index.
func (c *Client) SendText(ctx context.Context, channel uint32, text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	packet := &meshtastic.MeshPacket{
		To:      BroadcastAddr,
		Channel: channel,
		Id:      rand.Uint32(),
		PayloadVariant: &meshtastic.MeshPacket_Decoded{
			Decoded: &meshtastic.Data{
				Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
				Payload: []byte(text),
			},
		},
	}

	if err := writeFrame(conn, &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Packet{Packet: packet},
	}); err != nil {
		return fmt.Errorf("failed to send text packet: %w", err)
	}

	c.log.DebugContext(ctx, "Sent text packet", "channel", channel, "bytes", len(text))
	return nil
}

// Close tears down the device connection. The read loop exits on the
// resulting read error and closes the event channel.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
