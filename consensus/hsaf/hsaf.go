// Package hsaf implements HotStuff with Asynchronous Fallback (spec
// §4.7): an optimistic HotStuff-style track that runs for a configurable
// number of rounds per view, falling back to a leaderless, coin-elected
// asynchronous path the moment the optimistic track's pacemaker fires.
// The two tracks share the replica's (preferred_round, locked/high_qc)
// safety state so a view can never regress safety regardless of which
// track ultimately commits (spec §4.7: "Safety: preferred_round is
// updated by both tracks; locked_qc never regresses").
package hsaf

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

// OptimisticRoundsPerView is K, the number of HotStuff-style rounds
// attempted per view before falling back (spec §4.7: "Optimistic =
// HotStuff for K rounds (K configurable)").
const OptimisticRoundsPerView = 3

type AddressBook interface {
	Address(pk types.PublicKey) (string, bool)
}

// Core is the HSAF protocol core.
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

	Commit chan *types.Block

	events chan interface{}

	view           types.Round
	viewStartRound types.Round
	round          types.Round
	lastVotedRound types.Round
	preferredRound types.Round
	highQC         types.QC
	blocksByDigest map[types.Digest]*types.Block
	committedRound types.Round
	hasCommitted   bool

	voteAggs   map[types.Round]*common.VoteAggregator
	inFallback bool
	fb         *fallbackState
}

// fallbackState tracks one view's asynchronous fallback progress (spec
// §4.7 steps 1-5).
type fallbackState struct {
	proposals  map[types.PublicKey]*types.Block
	round1Aggs map[types.Digest]*common.VoteAggregator // proposal digest -> first-round votes
	qc1        map[types.Digest]types.QC                // proposal digest -> fallback_qc_1
	round2Aggs map[types.Digest]*common.VoteAggregator // fallback_qc_1 digest -> second-round votes
	qc2        map[types.PublicKey]types.QC             // proposer -> fallback_qc_2
	coinShares map[types.PublicKey]*types.CoinShare
	coin       *types.Coin
}

func newFallbackState() *fallbackState {
	return &fallbackState{
		proposals:  make(map[types.PublicKey]*types.Block),
		round1Aggs: make(map[types.Digest]*common.VoteAggregator),
		qc1:        make(map[types.Digest]types.QC),
		round2Aggs: make(map[types.Digest]*common.VoteAggregator),
		qc2:        make(map[types.PublicKey]types.QC),
		coinShares: make(map[types.PublicKey]*types.CoinShare),
	}
}

type blockMsg struct{ b *types.Block }
type voteMsg struct{ v *types.Vote }
type coinMsg struct{ c *types.CoinShare }
type localTimeout struct{ round types.Round }
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
		pace:           syncer.NewPacemaker(params),
		Commit:         make(chan *types.Block, params.QueueCapacity),
		events:         make(chan interface{}, params.QueueCapacity),
		highQC:         types.GenesisQC(),
		blocksByDigest: make(map[types.Digest]*types.Block),
		voteAggs:       make(map[types.Round]*common.VoteAggregator),
	}
}

func (c *Core) HandleBlock(b *types.Block)     { c.events <- blockMsg{b: b} }
func (c *Core) HandleVote(v *types.Vote)       { c.events <- voteMsg{v: v} }
func (c *Core) HandleCoinShare(cs *types.CoinShare) { c.events <- coinMsg{c: cs} }

func (c *Core) Run(ctx context.Context) error {
	c.startView(ctx, 0)
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
		c.onVote(ctx, e.v)
	case coinMsg:
		c.onCoinShare(ctx, e.c)
	case localTimeout:
		c.onLocalTimeout(ctx, e.round)
	}
}

func (c *Core) startView(ctx context.Context, view types.Round) {
	c.view = view
	c.viewStartRound = c.round
	c.inFallback = false
	c.fb = nil
	c.startOptimisticRound(ctx, c.round)
}

func (c *Core) startOptimisticRound(ctx context.Context, round types.Round) {
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
	b := &types.Block{Round: round, QC: c.highQC, Author: c.self.Public, Payload: digests}
	sig, err := c.oracle.Sign(ctx, b.SigningDigest())
	if err != nil {
		return
	}
	b.Signature = sig
	c.persistAndBroadcast(b)
}

func (c *Core) persistAndBroadcast(b *types.Block) {
	if err := c.store.Write(b.Digest(), types.EncodeBlock(b)); err != nil {
		c.log.Fatal(3, "failed to persist proposal", zap.Error(err))
		return
	}
	c.sender.Broadcast(c.peerAddrs(), wire.Propose(b))
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

func (c *Core) onBlock(ctx context.Context, b *types.Block) {
	if c.inFallback {
		c.onFallbackProposal(ctx, b)
		return
	}
	leader := c.comm.Leader(b.Round)
	if b.Author != leader.Public || !bftcrypto.Verify(b.Author, b.SigningDigest(), b.Signature) {
		c.log.Warn("dropping invalid optimistic proposal")
		return
	}
	if !common.VerifyQC(c.comm, b.QC) {
		c.log.Warn("dropping block with invalid QC")
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
	if b.Round <= c.lastVotedRound || b.QC.Round < c.preferredRound {
		return
	}
	c.lastVotedRound = b.Round
	if b.QC.Round > c.preferredRound {
		c.preferredRound = b.QC.ParentRound()
	}

	voteDigest := common.VoteSigningDigest(digest, b.Round, c.self.Public)
	sig, err := c.oracle.Sign(ctx, voteDigest)
	if err != nil {
		return
	}
	v := &types.Vote{BlockDigest: digest, Round: b.Round, Author: c.self.Public, Signature: sig}
	nextLeader := c.comm.Leader(b.Round + 1)
	if nextLeader.Public == c.self.Public {
		c.onVote(ctx, v)
	} else if addr, ok := c.addrs.Address(nextLeader.Public); ok {
		c.sender.Send(addr, wire.VoteMsg(v))
	}
}

func (c *Core) onVote(ctx context.Context, v *types.Vote) {
	if c.inFallback {
		c.onFallbackVote(ctx, v)
		return
	}
	agg, ok := c.voteAggs[v.Round]
	if !ok {
		agg = common.NewVoteAggregator(c.comm, v.BlockDigest, v.Round, types.SchemeIndividual, 0)
		c.voteAggs[v.Round] = agg
	}
	qc, formed, err := agg.Add(v)
	if err != nil || !formed {
		return
	}
	delete(c.voteAggs, v.Round)
	if qc.Round > c.highQC.Round {
		c.highQC = qc
	}
	c.tryCommitOptimistic(qc)

	if v.Round-c.viewStartRound+1 >= OptimisticRoundsPerView {
		c.round = v.Round + 1
		c.startView(ctx, c.view+1)
		return
	}
	c.startOptimisticRound(ctx, v.Round+1)
}

func (c *Core) tryCommitOptimistic(qc types.QC) {
	b, ok := c.blocksByDigest[qc.BlockDigest]
	if !ok {
		return
	}
	bPrime, ok := c.blocksByDigest[b.QC.BlockDigest]
	if !ok || bPrime.Round != b.Round-1 {
		return
	}
	bPrimePrime, ok := c.blocksByDigest[bPrime.QC.BlockDigest]
	if !ok || bPrimePrime.Round != b.Round-2 || (c.hasCommitted && bPrimePrime.Round <= c.committedRound) {
		return
	}
	c.hasCommitted = true
	c.committedRound = bPrimePrime.Round
	c.Commit <- bPrimePrime
}

// onLocalTimeout activates the fallback track for the current view (spec
// §4.7: "Fallback = asynchronous branch activated when the pacemaker
// fires on the optimistic track").
func (c *Core) onLocalTimeout(ctx context.Context, round types.Round) {
	if round != c.round || c.inFallback {
		return
	}
	c.inFallback = true
	c.fb = newFallbackState()
	c.proposeFallbackBlock(ctx)
}

// proposeFallbackBlock implements fallback step 1: every replica proposes
// a FallbackBlock extending high_qc (spec §4.7 step 1).
func (c *Core) proposeFallbackBlock(ctx context.Context) {
	digests, err := c.mp.GetPayloadDigests(ctx, 1<<16)
	if err != nil {
		c.log.Warn("failed to fetch payload digests for fallback proposal", zap.Error(err))
		digests = nil
	}
	b := &types.Block{Round: c.round, QC: c.highQC, Author: c.self.Public, Payload: digests}
	sig, err := c.oracle.Sign(ctx, b.SigningDigest())
	if err != nil {
		return
	}
	b.Signature = sig
	if err := c.store.Write(b.Digest(), types.EncodeBlock(b)); err != nil {
		c.log.Fatal(3, "failed to persist fallback proposal", zap.Error(err))
		return
	}
	c.fb.proposals[c.self.Public] = b
	c.sender.Broadcast(c.peerAddrs(), wire.Propose(b))
	c.castFallbackVote(b)
}

func (c *Core) onFallbackProposal(ctx context.Context, b *types.Block) {
	if !bftcrypto.Verify(b.Author, b.SigningDigest(), b.Signature) {
		return
	}
	c.fb.proposals[b.Author] = b
	c.blocksByDigest[b.Digest()] = b
	c.castFallbackVote(b)
}

// castFallbackVote implements fallback step 2: first-round threshold
// vote over the proposal (spec §4.7 step 2).
func (c *Core) castFallbackVote(b *types.Block) {
	digest := b.Digest()
	share := c.oracle.ThresholdSignShare(common.ThresholdVoteDigest(digest, c.round, 1))
	v := &types.Vote{BlockDigest: digest, Round: c.round, Author: c.self.Public, ThresholdShare: share}
	sig, err := c.oracle.Sign(context.Background(), common.VoteSigningDigest(digest, c.round, c.self.Public))
	if err != nil {
		return
	}
	v.Signature = sig
	c.sender.Broadcast(c.peerAddrs(), wire.VoteMsg(v))
	c.onFallbackVote(context.Background(), v)
}

func (c *Core) onFallbackVote(ctx context.Context, v *types.Vote) {
	if qc1, ok := c.fb.qc1[v.BlockDigest]; ok {
		c.onFallbackRound2Vote(ctx, v, qc1)
		return
	}
	agg, ok := c.fb.round1Aggs[v.BlockDigest]
	if !ok {
		agg = common.NewVoteAggregator(c.comm, v.BlockDigest, c.round, types.SchemeThreshold, 1)
		c.fb.round1Aggs[v.BlockDigest] = agg
	}
	qc1, formed, err := agg.Add(v)
	if err != nil || !formed {
		return
	}
	c.fb.qc1[v.BlockDigest] = qc1
	c.startFallbackRound2(qc1)
}

// startFallbackRound2 implements fallback step 3: second-round threshold
// vote over fallback_qc_1 (spec §4.7 step 3).
func (c *Core) startFallbackRound2(qc1 types.QC) {
	share := c.oracle.ThresholdSignShare(common.ThresholdVoteDigest(qc1.BlockDigest, c.round, 2))
	v := &types.Vote{BlockDigest: qc1.BlockDigest, Round: c.round, Author: c.self.Public, ThresholdShare: share}
	sig, err := c.oracle.Sign(context.Background(), common.VoteSigningDigest(qc1.BlockDigest, c.round, c.self.Public))
	if err != nil {
		return
	}
	v.Signature = sig
	c.sender.Broadcast(c.peerAddrs(), wire.VoteMsg(v))
	c.onFallbackRound2Vote(context.Background(), v, qc1)
}

func (c *Core) onFallbackRound2Vote(ctx context.Context, v *types.Vote, qc1 types.QC) {
	agg, ok := c.fb.round2Aggs[qc1.BlockDigest]
	if !ok {
		agg = common.NewVoteAggregator(c.comm, qc1.BlockDigest, c.round, types.SchemeThreshold, 2)
		c.fb.round2Aggs[qc1.BlockDigest] = agg
	}
	qc2, formed, err := agg.Add(v)
	if err != nil || !formed {
		return
	}
	var author types.PublicKey
	for pk, b := range c.fb.proposals {
		if b.Digest() == qc1.BlockDigest {
			author = pk
			break
		}
	}
	c.fb.qc2[author] = qc2
	c.castCoinShare(ctx)
}

// castCoinShare implements fallback step 4: submit a coin share for this
// view (spec §4.7 step 4).
func (c *Core) castCoinShare(ctx context.Context) {
	if _, already := c.fb.coinShares[c.self.Public]; already {
		return
	}
	digest := fallbackDigest(types.Digest{}, c.view, 'c')
	share := c.oracle.ThresholdSignShare(digest)
	sig, err := c.oracle.Sign(ctx, digest)
	if err != nil {
		return
	}
	cs := &types.CoinShare{View: c.view, Author: c.self.Public, Share: share, Signature: sig}
	c.sender.Broadcast(c.peerAddrs(), wire.CoinMsg(cs))
	c.onCoinShare(ctx, cs)
}

func (c *Core) onCoinShare(ctx context.Context, cs *types.CoinShare) {
	if !c.inFallback || cs.View != c.view {
		return
	}
	if _, already := c.fb.coinShares[cs.Author]; already {
		return
	}
	c.fb.coinShares[cs.Author] = cs
	if len(c.fb.coinShares) < c.comm.Quorum() {
		return
	}
	if c.fb.coin != nil {
		return
	}
	shares := make([][]byte, 0, len(c.fb.coinShares))
	for _, s := range c.fb.coinShares {
		shares = append(shares, s.Share)
	}
	combined, err := bftcrypto.ThresholdCombine(shares)
	if err != nil {
		c.log.Warn("failed to combine coin shares", zap.Error(err))
		return
	}
	c.fb.coin = &types.Coin{View: c.view, Value: combined[:]}
	c.tryCommitFallback(ctx)
}

// tryCommitFallback implements fallback step 5: the block whose author is
// the coin-indexed committee member and which reached fallback_qc_2 in
// this view is committed (spec §4.7 step 5).
func (c *Core) tryCommitFallback(ctx context.Context) {
	idx := c.fb.coin.Index(c.comm.Size())
	winner := c.comm.ByIndex(idx)
	qc2, ok := c.fb.qc2[winner.Public]
	if !ok {
		// The winner hasn't reached fallback_qc_2 yet from this replica's
		// view; advance to the next view and let the synchronizer catch
		// this replica up once enough of the committee reports otherwise.
		c.startView(ctx, c.view+1)
		return
	}
	b, ok := c.fb.proposals[winner.Public]
	if !ok {
		c.startView(ctx, c.view+1)
		return
	}
	if c.highQC.Round < qc2.Round {
		c.highQC = qc2
	}
	if !c.hasCommitted || b.Round > c.committedRound {
		c.hasCommitted = true
		c.committedRound = b.Round
		c.Commit <- b
	}
	c.round = b.Round + 1
	c.startView(ctx, c.view+1)
}

// fallbackDigest binds a coin share to its base, round, and phase. round is
// encoded as a full little-endian u64 (matching vaba.coinRoundBytes) so
// rounds differing by a multiple of 256 don't collide.
func fallbackDigest(base types.Digest, round types.Round, phase byte) types.Digest {
	var roundBytes [8]byte
	binary.LittleEndian.PutUint64(roundBytes[:], uint64(round))
	buf := append(append([]byte{}, base[:]...), roundBytes[:]...)
	buf = append(buf, phase)
	return types.HashDigest(buf)
}
