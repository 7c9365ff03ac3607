// Package hotstuff implements the linear-chain HotStuff protocol core
// (spec §4.6): a 3-phase pipelined leader-based protocol committing
// blocks under the 3-chain rule. Like the mempool core, it runs as a
// single cooperative event loop; all state below is owned exclusively by
// the goroutine running Run (spec §4.6: "All state transitions are
// serialized through the single inbox; no internal locking needed").
package hotstuff

import (
	"context"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/consensus/common"
	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/mempool"
	"github.com/vanguardbft/consensus/store"
	"github.com/vanguardbft/consensus/syncer"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/wire"
)

// AddressBook resolves a committee member's public key to its network
// address.
type AddressBook interface {
	Address(pk types.PublicKey) (string, bool)
}

// Core is the HotStuff protocol core.
type Core struct {
	log    log.Logger
	self   *bftcrypto.KeyPair
	oracle *bftcrypto.Oracle
	comm   *committee.Committee
	store  store.Store
	sender *wire.Sender
	addrs  AddressBook
	params bftconfig.Parameters
	mp     mempool.Driver
	sync   *syncer.Syncer
	pace   *syncer.Pacemaker

	// Commit receives blocks in commit order as the 3-chain rule fires
	// (spec §4.6 "Commit rule (3-chain)").
	Commit chan *types.Block

	events chan interface{}

	round           types.Round
	lastVotedRound  types.Round
	preferredRound  types.Round
	highQC          types.QC
	pendingTC       *types.TC
	voteAggregators map[types.Round]*common.VoteAggregator
	timeoutAggs     map[types.Round]*common.TimeoutAggregator
	blocksByDigest  map[types.Digest]*types.Block
	committedRound  types.Round
	hasCommitted    bool
}

type blockMsg struct{ b *types.Block }
type voteMsg struct{ v *types.Vote }
type timeoutMsg struct{ t *types.Timeout }
type localTimeout struct{ round types.Round }
type ancestorResolved struct{ b *types.Block }

// New builds a HotStuff Core. Nothing runs until Run, which starts
// round 0.
func New(logger log.Logger, self *bftcrypto.KeyPair, oracle *bftcrypto.Oracle, comm *committee.Committee, st store.Store, sender *wire.Sender, addrs AddressBook, params bftconfig.Parameters, mp mempool.Driver, sy *syncer.Syncer) *Core {
	return &Core{
		log:             logger,
		self:            self,
		oracle:          oracle,
		comm:            comm,
		store:           st,
		sender:          sender,
		addrs:           addrs,
		params:          params,
		mp:              mp,
		sync:            sy,
		pace:            syncer.NewPacemaker(params),
		Commit:          make(chan *types.Block, params.QueueCapacity),
		events:          make(chan interface{}, params.QueueCapacity),
		highQC:          types.GenesisQC(),
		voteAggregators: make(map[types.Round]*common.VoteAggregator),
		timeoutAggs:     make(map[types.Round]*common.TimeoutAggregator),
		blocksByDigest:  make(map[types.Digest]*types.Block),
	}
}

// HandleBlock feeds a Propose message into the core.
func (c *Core) HandleBlock(b *types.Block) { c.events <- blockMsg{b: b} }

// HandleVote feeds a Vote message into the core.
func (c *Core) HandleVote(v *types.Vote) { c.events <- voteMsg{v: v} }

// HandleTimeout feeds a Timeout message into the core.
func (c *Core) HandleTimeout(t *types.Timeout) { c.events <- timeoutMsg{t: t} }

// Run drives the event loop, starting round 0, until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	c.startRound(ctx, 0)
	for {
		select {
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		case b := <-c.sync.Resolved:
			c.dispatch(ctx, ancestorResolved{b: b})
		case r := <-c.pace.Expired:
			c.dispatch(ctx, localTimeout{round: r})
		case <-ctx.Done():
			c.pace.Stop()
			return ctx.Err()
		}
	}
}

func (c *Core) dispatch(ctx context.Context, ev interface{}) {
	switch e := ev.(type) {
	case blockMsg:
		c.onBlock(ctx, e.b)
	case ancestorResolved:
		c.onBlockAncestorsReady(ctx, e.b)
	case voteMsg:
		c.onVote(e.v)
	case timeoutMsg:
		c.onTimeout(e.t)
	case localTimeout:
		c.onLocalTimeout(e.round)
	}
}

// startRound implements "On local round start" (spec §4.6).
func (c *Core) startRound(ctx context.Context, round types.Round) {
	c.round = round
	c.pace.Arm(round)
	leader := c.comm.Leader(round)
	if leader.Public != c.self.Public {
		return
	}
	digests, err := c.mp.GetPayloadDigests(ctx, 1<<16)
	if err != nil {
		c.log.Warn("failed to fetch payload digests", zap.Error(err))
		return
	}
	b := &types.Block{
		Round:   round,
		QC:      c.highQC,
		TC:      c.pendingTC,
		Author:  c.self.Public,
		Payload: digests,
	}
	c.pendingTC = nil
	sig, err := c.oracle.Sign(ctx, b.SigningDigest())
	if err != nil {
		c.log.Warn("failed to sign proposal", zap.Error(err))
		return
	}
	b.Signature = sig
	c.broadcastBlock(b)
}

func (c *Core) broadcastBlock(b *types.Block) {
	if err := c.store.Write(b.Digest(), types.EncodeBlock(b)); err != nil {
		c.log.Fatal(3, "failed to persist own proposal", zap.Error(err))
		return
	}
	addrs := c.peerAddrs()
	c.sender.Broadcast(addrs, wire.Propose(b))
}

func (c *Core) peerAddrs() []string {
	addrs := make([]string, 0, c.comm.Size())
	for _, m := range c.comm.Members() {
		if m.Public == c.self.Public {
			continue
		}
		if addr, ok := c.addrs.Address(m.Public); ok {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// onBlock implements "On Block(b) received" steps (a)-(b) (spec §4.6);
// once ancestors and payload are confirmed available it continues in
// onBlockAncestorsReady.
func (c *Core) onBlock(ctx context.Context, b *types.Block) {
	leader := c.comm.Leader(b.Round)
	if b.Author != leader.Public {
		c.log.Warn("dropping block from non-leader")
		return
	}
	if !bftcrypto.Verify(b.Author, b.SigningDigest(), b.Signature) {
		c.log.Warn("dropping block with invalid signature")
		return
	}
	if !common.VerifyQC(c.comm, b.QC) {
		c.log.Warn("dropping block with invalid QC")
		return
	}
	if b.TC != nil && !common.VerifyTC(c.comm, b.TC) {
		c.log.Warn("dropping block with invalid TC")
		return
	}
	missing, err := c.mp.VerifyAvailable(ctx, b.Payload)
	if err != nil {
		c.log.Warn("mempool verify failed", zap.Error(err))
		return
	}
	if len(missing) > 0 {
		c.log.Debug("deferring vote until payload is available", zap.Int("missing", len(missing)))
		return
	}
	c.sync.Submit(ctx, b)
}

func (c *Core) onBlockAncestorsReady(ctx context.Context, b *types.Block) {
	digest := b.Digest()
	c.blocksByDigest[digest] = b
	if err := c.store.Write(digest, types.EncodeBlock(b)); err != nil {
		c.log.Fatal(3, "failed to persist block", zap.Error(err))
		return
	}
	c.sync.OnBlockArrived(digest)

	if b.QC.Round > c.highQC.Round {
		c.highQC = b.QC
	}

	// Safety rule (spec §4.6 step (c)).
	safeFromQC := b.QC.Round >= c.preferredRound
	safeFromTC := b.TC != nil && b.TC.HighestQC().Round <= b.QC.Round
	if b.Round <= c.lastVotedRound || !(safeFromQC || safeFromTC) {
		c.log.Debug("not voting for block: safety rule not satisfied")
		return
	}

	c.lastVotedRound = b.Round
	if b.QC.Round > c.preferredRound {
		c.preferredRound = b.QC.ParentRound()
	}

	voteDigest := common.VoteSigningDigest(digest, b.Round, c.self.Public)
	sig, err := c.oracle.Sign(ctx, voteDigest)
	if err != nil {
		c.log.Warn("failed to sign vote", zap.Error(err))
		return
	}
	v := &types.Vote{BlockDigest: digest, Round: b.Round, Author: c.self.Public, Signature: sig}

	nextLeader := c.comm.Leader(b.Round + 1)
	if addr, ok := c.addrs.Address(nextLeader.Public); ok {
		if nextLeader.Public == c.self.Public {
			c.onVote(v)
		} else {
			c.sender.Send(addr, wire.VoteMsg(v))
		}
	}
}

// onVote implements "On Vote(v)" (spec §4.6).
func (c *Core) onVote(v *types.Vote) {
	agg, ok := c.voteAggregators[v.Round]
	if !ok {
		agg = common.NewVoteAggregator(c.comm, v.BlockDigest, v.Round, types.SchemeIndividual, 0)
		c.voteAggregators[v.Round] = agg
	}
	qc, formed, err := agg.Add(v)
	if err != nil {
		c.log.Warn("dropping invalid vote", zap.Error(err))
		return
	}
	if !formed {
		return
	}
	delete(c.voteAggregators, v.Round)
	if qc.Round > c.highQC.Round {
		c.highQC = qc
	}
	c.tryCommit(qc)
	c.startRound(context.Background(), v.Round+1)
}

// onLocalTimeout implements "On local Timeout" (spec §4.6).
func (c *Core) onLocalTimeout(round types.Round) {
	if round != c.round {
		return
	}
	timeoutDigest := common.TimeoutSigningDigest(round, c.highQC, c.self.Public)
	sig, err := c.oracle.Sign(context.Background(), timeoutDigest)
	if err != nil {
		c.log.Warn("failed to sign timeout", zap.Error(err))
		return
	}
	t := &types.Timeout{Round: round, HighQC: c.highQC, Author: c.self.Public, Signature: sig}
	c.sender.Broadcast(c.peerAddrs(), wire.TimeoutMsg(t))
	c.onTimeout(t)
}

func (c *Core) onTimeout(t *types.Timeout) {
	agg, ok := c.timeoutAggs[t.Round]
	if !ok {
		agg = common.NewTimeoutAggregator(c.comm, t.Round, types.SchemeIndividual)
		c.timeoutAggs[t.Round] = agg
	}
	tc, formed, err := agg.Add(t)
	if err != nil {
		c.log.Warn("dropping invalid timeout", zap.Error(err))
		return
	}
	if !formed {
		return
	}
	delete(c.timeoutAggs, t.Round)
	c.pendingTC = tc
	if best := tc.HighestQC(); best.Round > c.highQC.Round {
		c.highQC = best
	}
	c.startRound(context.Background(), t.Round+1)
}

// tryCommit implements the 3-chain commit rule (spec §4.6: "on QC for
// block b at round r, if b.qc points to b' at round r-1 and b'.qc points
// to b'' at round r-2, then b'' and its ancestors are committed").
func (c *Core) tryCommit(qc types.QC) {
	b, ok := c.blocksByDigest[qc.BlockDigest]
	if !ok {
		return
	}
	bPrime, ok := c.blocksByDigest[b.QC.BlockDigest]
	if !ok || bPrime.Round != b.Round-1 {
		return
	}
	bPrimePrime, ok := c.blocksByDigest[bPrime.QC.BlockDigest]
	if !ok || bPrimePrime.Round != b.Round-2 {
		return
	}
	if c.hasCommitted && bPrimePrime.Round <= c.committedRound {
		return
	}
	// Collect b'' and its not-yet-committed ancestors, then emit them
	// oldest first.
	chain := []*types.Block{bPrimePrime}
	for anc, ok := c.blocksByDigest[bPrimePrime.QC.BlockDigest]; ok && (!c.hasCommitted || anc.Round > c.committedRound); anc, ok = c.blocksByDigest[anc.QC.BlockDigest] {
		chain = append(chain, anc)
	}
	c.hasCommitted = true
	c.committedRound = bPrimePrime.Round
	for i := len(chain) - 1; i >= 0; i-- {
		c.Commit <- chain[i]
	}
}
