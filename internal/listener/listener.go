// Package listener implements the command-response loop: it owns the mesh
// transport, filters inbound packets, and drives the parse, query, format,
// fragment, transmit pipeline one command at a time.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertmesh/meshtraffic/internal/command"
	"github.com/desertmesh/meshtraffic/internal/config"
	"github.com/desertmesh/meshtraffic/internal/fragment"
	"github.com/desertmesh/meshtraffic/internal/mesh"
	"github.com/desertmesh/meshtraffic/internal/traffic"
)

// State is the listener's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

const maxReconnectDelay = time.Minute

// QueryEngine answers parsed commands.
type QueryEngine interface {
	Query(ctx context.Context, kind command.Kind, location string) ([]traffic.Incident, error)
}

// Formatter renders incidents into reply lines.
type Formatter interface {
	Format(ctx context.Context, kind command.Kind, location string, incidents []traffic.Incident) []string
}

// Listener is the orchestrating loop. It is the single owner of the
// transport connection; all outbound traffic funnels through transmit,
// which serializes bursts and paces individual fragments.
type Listener struct {
	transport mesh.Transport
	engine    QueryEngine
	formatter Formatter

	channel        uint32
	maxPayload     int
	sendDelay      time.Duration
	reconnectDelay time.Duration

	state atomic.Int32
	txMu  sync.Mutex
	log   *slog.Logger
}

// New creates a Listener from configuration and collaborators.
func New(cfg config.MeshConfig, transport mesh.Transport, engine QueryEngine, formatter Formatter, log *slog.Logger) *Listener {
	return &Listener{
		transport:      transport,
		engine:         engine,
		formatter:      formatter,
		channel:        cfg.ChannelIndex,
		maxPayload:     cfg.MaxPayload,
		sendDelay:      cfg.SendDelay,
		reconnectDelay: cfg.ReconnectDelay,
		log:            log.With("component", "listener"),
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	if old != s {
		l.log.Debug("Listener state changed", "from", old.String(), "to", s.String())
	}
}

// Run connects the transport and serves inbound events until ctx is
// cancelled. A dropped link never terminates Run: the loop backs off and
// reconnects, doubling the delay up to a minute and resetting it after a
// successful connection.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(StateDisconnected)

	delay := l.reconnectDelay
	for {
		l.setState(StateConnecting)
		if err := l.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Error("Failed to connect to mesh device", "error", err, "retry_in", delay)
			l.setState(StateReconnecting)
			if !sleepCtx(ctx, delay) {
				return nil
			}
			delay = nextDelay(delay)
			continue
		}

		delay = l.reconnectDelay
		l.setState(StateConnected)
		l.log.Info("Listener ready", "channel", l.channel, "node_num", l.transport.NodeNum())

		l.serve(ctx)
		l.transport.Close() //nolint:errcheck

		if ctx.Err() != nil {
			return nil
		}

		l.log.Warn("Mesh connection lost, reconnecting", "retry_in", delay)
		l.setState(StateReconnecting)
		if !sleepCtx(ctx, delay) {
			return nil
		}
		delay = nextDelay(delay)
	}
}

// serve consumes events until the link drops or ctx is cancelled. Each
// event is processed to completion, including all outbound transmissions,
// before the next is taken; further events queue in the transport's bounded
// channel meanwhile.
func (l *Listener) serve(ctx context.Context) {
	events := l.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			l.Process(ctx, ev)
		}
	}
}

// Process runs one inbound event through the full pipeline. Exported for
// the --simulate harness, which fabricates events without a radio.
func (l *Listener) Process(ctx context.Context, ev mesh.Event) {
	if ev.Kind != mesh.PacketText {
		return
	}
	if ev.Channel != l.channel {
		l.log.Debug("Ignoring message on other channel",
			"channel", ev.Channel, "configured", l.channel)
		return
	}
	if ev.From == l.transport.NodeNum() {
		l.log.Debug("Ignoring our own transmission echoed back")
		return
	}

	l.log.Info("Text message received",
		"from", ev.From, "channel", ev.Channel, "text", ev.Text)

	cmd, ok := command.Parse(ev.Text)
	if !ok {
		l.log.Debug("Message does not match command grammar", "text", ev.Text)
		return
	}

	l.log.Info("Processing command",
		"kind", string(cmd.Kind), "location", cmd.Location)

	lines := l.respond(ctx, cmd)
	if err := l.Transmit(ctx, lines); err != nil {
		l.log.Error("Failed to transmit reply", "error", err)
	}
}

// respond resolves a command into reply lines. A data-source failure is
// contained here: it becomes a single failure line sent like any other
// reply, and the loop carries on.
func (l *Listener) respond(ctx context.Context, cmd command.Command) []string {
	incidents, err := l.engine.Query(ctx, cmd.Kind, cmd.Location)
	if err != nil {
		l.log.Error("Query failed", "kind", string(cmd.Kind), "location", cmd.Location, "error", err)
		return []string{fmt.Sprintf("Unable to fetch %s for '%s' right now, try again later", cmd.Kind, cmd.Location)}
	}
	return l.formatter.Format(ctx, cmd.Kind, cmd.Location, incidents)
}

// Announce transmits lines produced outside the command pipeline (the
// scheduled broadcaster). It shares the transmit path so pacing and the
// single-owner rule hold.
func (l *Listener) Announce(ctx context.Context, lines []string) error {
	if l.State() != StateConnected {
		return mesh.ErrNotConnected
	}
	return l.Transmit(ctx, lines)
}

// Transmit fragments each line and sends the fragments in order with the
// configured inter-message delay. Back-to-back transmissions on the radio
// are dropped or corrupted, so the delay is mandatory, not tunable
// politeness. A failed fragment is logged and skipped; the transport's
// reconnect handles link-level continuity.
func (l *Listener) Transmit(ctx context.Context, lines []string) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	first := true
	for _, line := range lines {
		for _, frag := range fragment.Split(line, l.maxPayload) {
			if !first {
				if !sleepCtx(ctx, l.sendDelay) {
					return ctx.Err()
				}
			}
			first = false

			if err := l.transport.SendText(ctx, l.channel, frag); err != nil {
				l.log.Error("Failed to send fragment, continuing",
					"error", err, "bytes", len(frag))
				continue
			}
			l.log.Debug("Fragment sent", "bytes", len(frag))
		}
	}
	return nil
}

// sleepCtx waits for d, returning false if ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}
