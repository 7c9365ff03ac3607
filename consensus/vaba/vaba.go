// Package vaba implements Chained VABA (spec §4.8): a fully asynchronous,
// leaderless protocol. Every round every replica broadcasts its own
// proposal; once a proposal collects 2f+1 threshold votes it has a round
// QC; after the voting phase, a retrospectively-elected coin winner's
// chain of QCs is the committed suffix. State mirrors HSAF's fallback
// track without the optimistic HotStuff portion (spec §4.8: "State
// mirrors HSAF's fallback portion without the optimistic track").
package vaba

import (
	"context"
	"encoding/binary"

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

type AddressBook interface {
	Address(pk types.PublicKey) (string, bool)
}

// roundState tracks one round's proposals, votes, and coin (spec §4.8).
type roundState struct {
	proposals map[types.PublicKey]*types.Block
	votes     map[types.Digest]*common.VoteAggregator
	qcs       map[types.PublicKey]types.QC
	coinShare map[types.PublicKey]*types.CoinShare
	coin      *types.Coin
	advanced  bool
}

func newRoundState() *roundState {
	return &roundState{
		proposals: make(map[types.PublicKey]*types.Block),
		votes:     make(map[types.Digest]*common.VoteAggregator),
		qcs:       make(map[types.PublicKey]types.QC),
		coinShare: make(map[types.PublicKey]*types.CoinShare),
	}
}

// Core is the VABA protocol core.
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

	Commit chan *types.Block

	events chan interface{}

	round          types.Round
	highQC         types.QC
	blocksByDigest map[types.Digest]*types.Block
	committedRound types.Round
	hasCommitted   bool
	rounds         map[types.Round]*roundState
}

type blockMsg struct{ b *types.Block }
type voteMsg struct{ v *types.Vote }
type coinMsg struct{ c *types.CoinShare }
type ancestorResolved struct{ b *types.Block }

func New(logger log.Logger, self *bftcrypto.KeyPair, oracle *bftcrypto.Oracle, comm *committee.Committee, st store.Store, sender *wire.Sender, addrs AddressBook, params bftconfig.Parameters, mp mempool.Driver, sy *syncer.Syncer) *Core {
	return &Core{
		log:            logger,
		self:           self,
		oracle:         oracle,
		comm:           comm,
		store:          st,
		sender:         sender,
		addrs:          addrs,
		params:         params,
		mp:             mp,
		sync:           sy,
		Commit:         make(chan *types.Block, params.QueueCapacity),
		events:         make(chan interface{}, params.QueueCapacity),
		highQC:         types.GenesisQC(),
		blocksByDigest: make(map[types.Digest]*types.Block),
		rounds:         make(map[types.Round]*roundState),
	}
}

func (c *Core) HandleBlock(b *types.Block)          { c.events <- blockMsg{b: b} }
func (c *Core) HandleVote(v *types.Vote)            { c.events <- voteMsg{v: v} }
func (c *Core) HandleCoinShare(cs *types.CoinShare) { c.events <- coinMsg{c: cs} }

func (c *Core) Run(ctx context.Context) error {
	c.startRound(ctx, 0)
	for {
		select {
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		case b := <-c.sync.Resolved:
			c.dispatch(ctx, ancestorResolved{b: b})
		case <-ctx.Done():
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
		c.onVote(ctx, e.v)
	case coinMsg:
		c.onCoinShare(ctx, e.c)
	}
}

func (c *Core) roundState(round types.Round) *roundState {
	rs, ok := c.rounds[round]
	if !ok {
		rs = newRoundState()
		c.rounds[round] = rs
	}
	return rs
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

// startRound implements "every round, every replica broadcasts a
// proposal" (spec §4.8).
func (c *Core) startRound(ctx context.Context, round types.Round) {
	c.round = round
	digests, err := c.mp.GetPayloadDigests(ctx, 1<<16)
	if err != nil {
		c.log.Warn("failed to fetch payload digests", zap.Error(err))
		digests = nil
	}
	b := &types.Block{Round: round, QC: c.highQC, Author: c.self.Public, Payload: digests}
	sig, err := c.oracle.Sign(ctx, b.SigningDigest())
	if err != nil {
		return
	}
	b.Signature = sig
	if err := c.store.Write(b.Digest(), types.EncodeBlock(b)); err != nil {
		c.log.Fatal(3, "failed to persist proposal", zap.Error(err))
		return
	}
	rs := c.roundState(round)
	rs.proposals[c.self.Public] = b
	c.blocksByDigest[b.Digest()] = b
	c.sender.Broadcast(c.peerAddrs(), wire.Propose(b))
	c.castVote(b)
}

func (c *Core) onBlock(ctx context.Context, b *types.Block) {
	if !bftcrypto.Verify(b.Author, b.SigningDigest(), b.Signature) {
		c.log.Warn("dropping proposal with invalid signature")
		return
	}
	if !common.VerifyQC(c.comm, b.QC) {
		c.log.Warn("dropping proposal with invalid QC")
		return
	}
	missing, err := c.mp.VerifyAvailable(ctx, b.Payload)
	if err != nil || len(missing) > 0 {
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
	rs := c.roundState(b.Round)
	rs.proposals[b.Author] = b
	c.castVote(b)
}

// castVote implements "each proposal collects 2f+1 threshold votes"
// (spec §4.8).
func (c *Core) castVote(b *types.Block) {
	digest := b.Digest()
	share := c.oracle.ThresholdSignShare(common.ThresholdVoteDigest(digest, b.Round, 0))
	sig, err := c.oracle.Sign(context.Background(), common.VoteSigningDigest(digest, b.Round, c.self.Public))
	if err != nil {
		return
	}
	v := &types.Vote{BlockDigest: digest, Round: b.Round, Author: c.self.Public, Signature: sig, ThresholdShare: share}
	c.sender.Broadcast(c.peerAddrs(), wire.VoteMsg(v))
	c.onVote(context.Background(), v)
}

func (c *Core) onVote(ctx context.Context, v *types.Vote) {
	rs := c.roundState(v.Round)
	agg, ok := rs.votes[v.BlockDigest]
	if !ok {
		agg = common.NewVoteAggregator(c.comm, v.BlockDigest, v.Round, types.SchemeThreshold, 0)
		rs.votes[v.BlockDigest] = agg
	}
	qc, formed, err := agg.Add(v)
	if err != nil || !formed {
		return
	}
	var author types.PublicKey
	for pk, b := range rs.proposals {
		if b.Digest() == v.BlockDigest {
			author = pk
			break
		}
	}
	rs.qcs[author] = qc
	if qc.Round > c.highQC.Round {
		c.highQC = qc
	}
	c.maybeCastCoinShare(ctx, v.Round)
}

// maybeCastCoinShare starts the coin phase for round once this replica
// has seen a quorum of round QCs (spec §4.8: "after the voting phase, a
// threshold coin elects the round's winner retrospectively").
func (c *Core) maybeCastCoinShare(ctx context.Context, round types.Round) {
	rs := c.roundState(round)
	if len(rs.qcs) < c.comm.Quorum() {
		return
	}
	if _, already := rs.coinShare[c.self.Public]; already {
		return
	}
	digest := types.HashDigest(append([]byte("vaba-coin-"), coinRoundBytes(round)...))
	share := c.oracle.ThresholdSignShare(digest)
	sig, err := c.oracle.Sign(ctx, digest)
	if err != nil {
		return
	}
	cs := &types.CoinShare{View: round, Author: c.self.Public, Share: share, Signature: sig}
	c.sender.Broadcast(c.peerAddrs(), wire.CoinMsg(cs))
	c.onCoinShare(ctx, cs)
}

func (c *Core) onCoinShare(ctx context.Context, cs *types.CoinShare) {
	rs := c.roundState(cs.View)
	if _, already := rs.coinShare[cs.Author]; already {
		return
	}
	rs.coinShare[cs.Author] = cs
	if len(rs.coinShare) < c.comm.Quorum() || rs.coin != nil {
		return
	}
	shares := make([][]byte, 0, len(rs.coinShare))
	for _, s := range rs.coinShare {
		shares = append(shares, s.Share)
	}
	combined, err := bftcrypto.ThresholdCombine(shares)
	if err != nil {
		c.log.Warn("failed to combine coin shares", zap.Error(err))
		return
	}
	rs.coin = &types.Coin{View: cs.View, Value: combined[:]}
	c.tryCommit(ctx, cs.View, rs)
}

// tryCommit implements "the winner's chain of QCs forms the committed
// suffix" (spec §4.8): the coin-indexed committee member's QC chain for
// this round, walked back through ancestors, is committed.
func (c *Core) tryCommit(ctx context.Context, round types.Round, rs *roundState) {
	if rs.advanced {
		return
	}
	idx := rs.coin.Index(c.comm.Size())
	winner := c.comm.ByIndex(idx)
	qc, ok := rs.qcs[winner.Public]
	if !ok {
		rs.advanced = true
		c.startRound(ctx, round+1)
		return
	}
	b, ok := c.blocksByDigest[qc.BlockDigest]
	if ok {
		c.commitChain(b)
	}
	rs.advanced = true
	c.startRound(ctx, round+1)
}

func coinRoundBytes(round types.Round) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(round))
	return buf[:]
}

func (c *Core) commitChain(b *types.Block) {
	if c.hasCommitted && b.Round <= c.committedRound {
		return
	}
	if parent, ok := c.blocksByDigest[b.QC.BlockDigest]; ok && parent.Round == b.Round-1 {
		c.commitChain(parent)
	}
	if c.hasCommitted && b.Round <= c.committedRound {
		return
	}
	c.hasCommitted = true
	c.committedRound = b.Round
	c.Commit <- b
}
