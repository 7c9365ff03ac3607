// Package syncer implements ancestor-fetching and the per-round pacemaker
// timer every protocol core depends on (spec §4.5). It runs alongside a
// protocol core as an independent cooperative task, feeding resolved
// blocks and timeout signals back through bounded channels (spec §2,
// §5).
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/store"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/wire"
)

// AddressBook resolves a committee member's public key to its consensus
// network address.
type AddressBook interface {
	Address(pk types.PublicKey) (string, bool)
}

// Syncer tracks blocks whose parent is not yet locally available, issues
// BlockRequests for missing ancestors, and re-feeds dependent blocks into
// Resolved once their ancestor arrives (spec §4.5 items 1-2).
type Syncer struct {
	log    log.Logger
	self   types.PublicKey
	comm   *committee.Committee
	store  store.Store
	sender *wire.Sender
	addrs  AddressBook
	params bftconfig.Parameters

	// Resolved receives blocks once their full ancestor chain is locally
	// available, in the order they were originally submitted via
	// Submit/re-submitted after resolution.
	Resolved chan *types.Block

	mu      sync.Mutex
	pending map[types.Digest][]*types.Block // missing ancestor digest -> dependents
	inFlightCancel map[types.Digest]context.CancelFunc
}

func New(logger log.Logger, self types.PublicKey, comm *committee.Committee, st store.Store, sender *wire.Sender, addrs AddressBook, params bftconfig.Parameters) *Syncer {
	return &Syncer{
		log:            logger,
		self:           self,
		comm:           comm,
		store:          st,
		sender:         sender,
		addrs:          addrs,
		params:         params,
		Resolved:       make(chan *types.Block, params.QueueCapacity),
		pending:        make(map[types.Digest][]*types.Block),
		inFlightCancel: make(map[types.Digest]context.CancelFunc),
	}
}

// Submit hands b to the syncer. If b's parent (b.QC.BlockDigest) is
// already available, b is immediately pushed to Resolved; otherwise it is
// parked and a BlockRequest is issued (spec §4.5 item 1).
func (s *Syncer) Submit(ctx context.Context, b *types.Block) {
	parent := b.ParentDigest()
	if parent.IsZero() {
		s.Resolved <- b
		return
	}
	if _, ok, err := s.store.Read(parent); err == nil && ok {
		s.Resolved <- b
		return
	}

	s.mu.Lock()
	_, alreadyWaiting := s.pending[parent]
	s.pending[parent] = append(s.pending[parent], b)
	s.mu.Unlock()

	if !alreadyWaiting {
		s.requestAncestor(ctx, parent, b.Author)
	}
}

// requestAncestor issues a SyncRequest to b's author and up to f other
// replicas, reissuing every sync_retry_delay until satisfied (spec §4.5
// item 1).
func (s *Syncer) requestAncestor(ctx context.Context, digest types.Digest, author types.PublicKey) {
	reqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.inFlightCancel[digest] = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		ticker := time.NewTicker(s.params.SyncRetryDelay())
		defer ticker.Stop()
		s.sendRequest(digest, author)
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				_, stillPending := s.pending[digest]
				s.mu.Unlock()
				if !stillPending {
					return
				}
				s.sendRequest(digest, author)
			case <-reqCtx.Done():
				return
			}
		}
	}()
}

func (s *Syncer) sendRequest(digest types.Digest, author types.PublicKey) {
	targets := []types.PublicKey{author}
	f := s.comm.Faults()
	for _, m := range s.comm.Members() {
		if len(targets) > f {
			break
		}
		if m.Public != author && m.Public != s.self {
			targets = append(targets, m.Public)
		}
	}
	for _, pk := range targets {
		if addr, ok := s.addrs.Address(pk); ok {
			s.sender.Send(addr, wire.SyncRequestMsg(digest, s.self))
		}
	}
}

// OnBlockArrived is called once a block (any block, not just one Submit
// tracked) has been validated and persisted under digest; it re-feeds any
// dependents waiting on it (spec §4.5 item 2).
func (s *Syncer) OnBlockArrived(digest types.Digest) {
	s.mu.Lock()
	dependents := s.pending[digest]
	delete(s.pending, digest)
	if cancel, ok := s.inFlightCancel[digest]; ok {
		cancel()
		delete(s.inFlightCancel, digest)
	}
	s.mu.Unlock()

	for _, b := range dependents {
		s.Resolved <- b
	}
}

// Forget stops chasing digest because the dependent block's round has
// been garbage-collected (spec §4.5 item 1: "until satisfied or the block
// becomes irrelevant").
func (s *Syncer) Forget(digest types.Digest) {
	s.mu.Lock()
	delete(s.pending, digest)
	if cancel, ok := s.inFlightCancel[digest]; ok {
		cancel()
		delete(s.inFlightCancel, digest)
	}
	s.mu.Unlock()
}

// HandleSyncRequest answers a peer's SyncRequest for a locally available
// block.
func (s *Syncer) HandleSyncRequest(req *wire.SyncRequest) {
	b, ok, err := s.store.Read(req.Digest)
	if err != nil || !ok {
		return
	}
	blk, err := types.DecodeBlock(b)
	if err != nil {
		s.log.Warn("stored block failed to decode", zap.Error(err))
		return
	}
	if addr, ok := s.addrs.Address(req.Sender); ok {
		s.sender.Send(addr, wire.SyncReplyMsg(blk))
	}
}
