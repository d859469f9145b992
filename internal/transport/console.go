package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"chainrig/internal/router"

	"go.uber.org/zap"
)

// Console reads one command per line ("setNext A", "add 1 gain") and
// delivers it under a namespace. A line starting with "/" is taken as a full
// address. Blank lines and lines starting with "#" are skipped.
type Console struct {
	namespace string
	bus       Deliverer
	log       *zap.Logger
}

// NewConsole returns a console delivering into bus.
func NewConsole(namespace string, bus Deliverer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{namespace: strings.Trim(namespace, "/"), bus: bus, log: logger}
}

// ParseLine converts one console line into a message. ok is false for
// blank and comment lines.
func (c *Console) ParseLine(line string) (msg router.Message, ok bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return router.Message{}, false
	}
	address := fields[0]
	if !strings.HasPrefix(address, "/") {
		address = "/" + c.namespace + "/" + address
	}
	args := make([]any, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, f)
	}
	return router.Message{Address: address, Args: args}, true
}

// Run reads r until EOF or ctx is cancelled. Cancellation is noticed between
// lines.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	s := bufio.NewScanner(r)
	for s.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := c.ParseLine(s.Text())
		if !ok {
			continue
		}
		if c.bus.Deliver(msg) == 0 {
			c.log.Warn("unknown console command", zap.String("address", msg.Address))
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read console: %w", err)
	}
	return nil
}
