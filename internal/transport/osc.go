package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"chainrig/internal/router"

	"github.com/hypebeast/go-osc/osc"
	"go.uber.org/zap"
)

// OSCServer receives OSC packets on UDP and delivers each message to a bus.
// It implements osc.Dispatcher.
type OSCServer struct {
	addr string
	bus  Deliverer
	log  *zap.Logger

	mu    sync.Mutex
	bound net.Addr
}

// NewOSCServer returns a server that will listen on addr ("host:port").
func NewOSCServer(addr string, bus Deliverer, logger *zap.Logger) *OSCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OSCServer{addr: addr, bus: bus, log: logger}
}

// Dispatch implements osc.Dispatcher. Bundles are flattened in order.
func (s *OSCServer) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		s.deliver(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			s.deliver(m)
		}
		for _, b := range p.Bundles {
			s.Dispatch(b)
		}
	default:
		s.log.Debug("ignoring osc packet", zap.String("type", fmt.Sprintf("%T", packet)))
	}
}

func (s *OSCServer) deliver(m *osc.Message) {
	if m == nil {
		return
	}
	n := s.bus.Deliver(router.Message{Address: m.Address, Args: m.Arguments})
	if n == 0 {
		s.log.Debug("unrouted osc message", zap.String("address", m.Address))
	}
}

// Addr returns the bound address once Serve is listening, or nil.
func (s *OSCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Serve binds the UDP socket and serves until ctx is cancelled.
func (s *OSCServer) Serve(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("listen osc on %s: %w", s.addr, err)
	}
	return s.ServeConn(ctx, conn)
}

// ServeConn serves on an already bound connection and closes it when ctx is
// cancelled. Packets are delivered one at a time in arrival order; packets
// that fail to parse are logged and dropped.
func (s *OSCServer) ServeConn(ctx context.Context, conn net.PacketConn) error {
	s.mu.Lock()
	s.bound = conn.LocalAddr()
	s.mu.Unlock()
	s.log.Info("osc server listening", zap.Stringer("addr", conn.LocalAddr()))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	queue := make(chan osc.Packet, packetQueueSize)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range queue {
			s.Dispatch(p)
		}
	}()
	defer func() {
		close(queue)
		<-drained
	}()

	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("osc server stopped")
				return nil
			}
			return fmt.Errorf("serve osc: %w", err)
		}

		packet, err := parsePacket(buf[:n])
		if err != nil {
			s.log.Warn("dropping malformed osc packet",
				zap.Stringer("from", from),
				zap.Int("bytes", n),
				zap.Error(err))
			continue
		}

		select {
		case queue <- packet:
		case <-ctx.Done():
			s.log.Info("osc server stopped")
			return nil
		}
	}
}

const (
	maxPacketSize   = 65535
	packetQueueSize = 256
)

func parsePacket(data []byte) (p osc.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse osc packet: %v", r)
		}
	}()
	return osc.ParsePacket(string(data))
}

// SendOSC sends one message to an OSC server at hostport.
func SendOSC(hostport, address string, args ...any) error {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return fmt.Errorf("parse osc address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse osc port %q: %w", portStr, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	client := osc.NewClient(host, port)
	if err := client.Send(osc.NewMessage(address, args...)); err != nil {
		return fmt.Errorf("send %s to %s: %w", address, hostport, err)
	}
	return nil
}

// TypedArgs converts textual arguments to OSC argument types: integers become
// int32, other numbers float32, everything else stays a string.
func TypedArgs(fields []string) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		if n, err := strconv.ParseInt(f, 10, 32); err == nil {
			args = append(args, int32(n))
			continue
		}
		if x, err := strconv.ParseFloat(f, 32); err == nil && !strings.ContainsAny(f, "nN") {
			args = append(args, float32(x))
			continue
		}
		args = append(args, f)
	}
	return args
}
