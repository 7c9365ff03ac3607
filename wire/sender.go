package wire

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/types"
)

// outbound is one queued message plus the peer it's addressed to.
type outbound struct {
	addr string
	msg  Message
}

// Sender drains one shared outbound queue, dialing a fresh connection for
// every message, and retries a failed send with exponential backoff up to
// a cap before dropping it (spec §7: "Network send failure: transient;
// sender retries with exponential backoff up to a cap, then drops"). It
// keeps no persistent connection to any peer. Grounded on the teacher's
// networking/sender retry loop.
type Sender struct {
	log log.Logger

	queue chan outbound

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxAttempts    int
}

// NewSender starts a Sender. Callers call Run in a supervised goroutine.
func NewSender(logger log.Logger) *Sender {
	return &Sender{
		log:            logger,
		queue:          make(chan outbound, 4096),
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     5 * time.Second,
		maxAttempts:    10,
	}
}

// Send enqueues m for best-effort delivery to addr. Never blocks
// indefinitely: if the internal queue is full the message is dropped and
// logged, since a queued-forever sender would violate the cooperative
// event loop's bounded-queue discipline (spec §5).
func (s *Sender) Send(addr string, m Message) {
	select {
	case s.queue <- outbound{addr: addr, msg: m}:
	default:
		s.log.Warn("sender queue full, dropping message", zap.String("addr", addr))
	}
}

// Broadcast enqueues m for every address in addrs.
func (s *Sender) Broadcast(addrs []string, m Message) {
	for _, a := range addrs {
		s.Send(a, m)
	}
}

// Run drains the send queue until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	for {
		select {
		case ob := <-s.queue:
			s.deliver(ctx, ob)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sender) deliver(ctx context.Context, ob outbound) {
	backoff := s.initialBackoff
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := s.tryDeliver(ctx, ob); err != nil {
			s.log.Debug("send attempt failed", zap.String("addr", ob.addr), zap.Int("attempt", attempt))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}
		return
	}
	s.log.Warn("dropping message after exhausting retry budget", zap.String("addr", ob.addr))
}

func (s *Sender) tryDeliver(ctx context.Context, ob outbound) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	nc, err := d.DialContext(ctx, "tcp", ob.addr)
	if err != nil {
		return err
	}
	defer nc.Close()
	conn := NewConn(nc)
	return conn.Send(ob.msg)
}

// AddressBook resolves a replica's public key to its consensus network
// address, populated from the Committee config file (spec §6).
type AddressBook interface {
	Address(pk types.PublicKey) (string, bool)
}
