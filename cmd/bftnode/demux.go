package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/mempool"
	"github.com/vanguardbft/consensus/syncer"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/wire"
)

// consensusCore is the subset of each protocol core's API the network
// demultiplexer needs; implemented by the three per-protocol adapters
// below so this file doesn't need a type switch on which protocol is
// running.
type consensusCore interface {
	HandleBlock(*types.Block)
	HandleVote(*types.Vote)
}

type coinHandler interface {
	HandleCoinShare(*types.CoinShare)
}

type timeoutHandler interface {
	HandleTimeout(*types.Timeout)
}

type hotstuffAdapter struct{ core interface {
	HandleBlock(*types.Block)
	HandleVote(*types.Vote)
	HandleTimeout(*types.Timeout)
} }

func (a hotstuffAdapter) HandleBlock(b *types.Block)     { a.core.HandleBlock(b) }
func (a hotstuffAdapter) HandleVote(v *types.Vote)       { a.core.HandleVote(v) }
func (a hotstuffAdapter) HandleTimeout(t *types.Timeout) { a.core.HandleTimeout(t) }

type hsafAdapter struct{ core interface {
	HandleBlock(*types.Block)
	HandleVote(*types.Vote)
	HandleCoinShare(*types.CoinShare)
} }

func (a hsafAdapter) HandleBlock(b *types.Block)          { a.core.HandleBlock(b) }
func (a hsafAdapter) HandleVote(v *types.Vote)            { a.core.HandleVote(v) }
func (a hsafAdapter) HandleCoinShare(c *types.CoinShare)  { a.core.HandleCoinShare(c) }

type vabaAdapter struct{ core interface {
	HandleBlock(*types.Block)
	HandleVote(*types.Vote)
	HandleCoinShare(*types.CoinShare)
} }

func (a vabaAdapter) HandleBlock(b *types.Block)         { a.core.HandleBlock(b) }
func (a vabaAdapter) HandleVote(v *types.Vote)           { a.core.HandleVote(v) }
func (a vabaAdapter) HandleCoinShare(c *types.CoinShare) { a.core.HandleCoinShare(c) }

// demuxConsensusInbox routes inbound consensus-port messages to the
// running protocol core and to the syncer (spec §2: "Messages arrive at
// the network receiver, are demultiplexed into the core's inbox").
func demuxConsensusInbox(ctx context.Context, recv *wire.Receiver, sy *syncer.Syncer, core consensusCore) error {
	for {
		select {
		case msg := <-recv.Inbox:
			switch msg.Kind {
			case wire.KindPropose:
				core.HandleBlock(msg.Propose)
			case wire.KindSyncReply:
				core.HandleBlock(msg.SyncReply)
			case wire.KindVote:
				core.HandleVote(msg.Vote)
			case wire.KindTimeout:
				if h, ok := core.(timeoutHandler); ok {
					h.HandleTimeout(msg.Timeout)
				}
			case wire.KindCoin:
				if h, ok := core.(coinHandler); ok {
					h.HandleCoinShare(msg.Coin)
				}
			case wire.KindSyncRequest:
				sy.HandleSyncRequest(msg.SyncRequest)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// demuxMempoolInbox routes inbound mempool-port messages to the mempool
// core (spec §4.4 "Peer Payload" / "Peer PayloadRequest").
func demuxMempoolInbox(ctx context.Context, recv *wire.Receiver, core *mempool.Core) error {
	for {
		select {
		case msg := <-recv.Inbox:
			switch msg.Kind {
			case wire.KindPayload:
				core.HandlePeerPayload(msg.Payload)
			case wire.KindPayloadRequest:
				core.HandlePeerPayloadRequest(msg.PayloadRequest.Digest, msg.PayloadRequest.Sender)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func zapErr(err error) zap.Field { return zap.Error(err) }
