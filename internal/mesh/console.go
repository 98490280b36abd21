package mesh

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Console is a Transport that prints outbound fragments instead of
// transmitting them. It backs the --simulate harness: fabricated events flow
// through the full listener pipeline without a radio attached.
type Console struct {
	w       io.Writer
	nodeNum uint32

	mu     sync.Mutex
	events chan Event
}

// NewConsole creates a console transport writing sends to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, nodeNum: 1}
}

func (c *Console) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make(chan Event, eventQueueSize)
	return nil
}

func (c *Console) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

func (c *Console) SendText(_ context.Context, channel uint32, text string) error {
	_, err := fmt.Fprintf(c.w, "[ch %d] %s\n", channel, text)
	return err
}

func (c *Console) NodeNum() uint32 { return c.nodeNum }

func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != nil {
		close(c.events)
		c.events = nil
	}
	return nil
}
