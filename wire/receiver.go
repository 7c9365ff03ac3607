package wire

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/log"
)

// Receiver accepts inbound connections and demultiplexes decoded Messages
// onto Inbox, one per core that needs them (spec §2: "Messages arrive at
// the network receiver, are demultiplexed into the core's inbox").
type Receiver struct {
	log   log.Logger
	ln    net.Listener
	Inbox chan Message
}

// Listen binds addr and returns a Receiver ready to Run.
func Listen(addr string, logger log.Logger) (*Receiver, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		log:   logger,
		ln:    ln,
		Inbox: make(chan Message, 4096),
	}, nil
}

// Addr returns the address the Receiver is actually bound to, useful when
// Listen was called with a ":0" port and the caller needs the resolved
// address (e.g. to populate an AddressBook in tests).
func (r *Receiver) Addr() string { return r.ln.Addr().String() }

// Run accepts connections until ctx is cancelled, each on its own
// goroutine, feeding decoded messages into Inbox.
func (r *Receiver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = r.ln.Close()
	}()
	for {
		nc, err := r.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				r.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		go r.serve(nc)
	}
}

func (r *Receiver) serve(nc net.Conn) {
	defer nc.Close()
	conn := NewConn(nc)
	for {
		msg, err := conn.Recv()
		if err != nil {
			return
		}
		select {
		case r.Inbox <- msg:
		default:
			r.log.Warn("inbox full, dropping inbound message")
		}
	}
}
