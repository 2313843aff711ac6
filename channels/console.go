package channels

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Console prints every change individually, framed so it stands out in the
// monitor's log stream.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console connector. A nil writer means os.Stdout.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

func (c *Console) Name() string { return "console" }

// Notify prints each event in the batch in order, one frame per change.
func (c *Console) Notify(ctx context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.out, "\n%s\n%s\n%s\n\n", rule, FormatEvent(ev), rule); err != nil {
			return &ErrSendFailed{Channel: c.Name(), Cause: err}
		}
	}
	return nil
}
