package mempool

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/wire"
)

// ClientListener accepts raw-framed client transactions (spec §6: "Client
// transaction format: Raw bytes ... No further structure imposed") and
// feeds them into a mempool Core's client-facing channel. It is a
// separate listener from the inter-replica wire.Receiver because client
// connections carry no Message tag, just one transaction per frame.
type ClientListener struct {
	log log.Logger
	ln  net.Listener
	txs chan<- types.Transaction
}

func ListenClients(addr string, logger log.Logger, txs chan<- types.Transaction) (*ClientListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ClientListener{log: logger, ln: ln, txs: txs}, nil
}

func (l *ClientListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				l.log.Warn("client accept failed", zap.Error(err))
				continue
			}
		}
		go l.serve(nc)
	}
}

func (l *ClientListener) serve(nc net.Conn) {
	defer nc.Close()
	for {
		tx, err := wire.ReadFrame(nc)
		if err != nil {
			return
		}
		if len(tx) < types.MinTransactionSize {
			l.log.Warn("dropping undersized client transaction")
			continue
		}
		l.txs <- types.Transaction(tx)
	}
}
