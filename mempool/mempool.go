// Package mempool implements the mempool core (spec §4.4): accepts client
// transactions, batches them into signed Payloads, persists and gossips
// them, and answers the consensus core's availability-sync requests. It
// runs as a single cooperative event loop reading from bounded channels,
// the same shape the engine cores use (spec §5: "single-threaded event
// loop per core").
package mempool

import (
	"context"

	"go.uber.org/zap"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/store"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/wire"
)

// GetRequest asks the core for up to Max not-yet-proposed payload digests
// (spec §4.4: "Consensus Get(max_count) → digests").
type GetRequest struct {
	Max   int
	Reply chan []types.Digest
}

// VerifyRequest asks the core which of Digests are not locally available
// (spec §4.4: "Consensus Verify(digests) → missing").
type VerifyRequest struct {
	Digests []types.Digest
	Reply   chan []types.Digest
}

// peerPayload is a Payload received from a committee peer, to be verified
// and persisted (spec §4.4: "Peer Payload").
type peerPayload struct {
	payload *types.Payload
}

// peerPayloadRequest is a request from a committee peer for a Payload by
// digest (spec §4.4: "Peer PayloadRequest(digest, requester)").
type peerPayloadRequest struct {
	digest    types.Digest
	requester types.PublicKey
}

// Core is the mempool's single-threaded event loop.
type Core struct {
	log    log.Logger
	self   *bftcrypto.KeyPair
	oracle *bftcrypto.Oracle
	comm   *committee.Committee
	store  store.Store
	sender *wire.Sender
	addrs  interface {
		MempoolAddress(types.PublicKey) (string, bool)
	}
	params bftconfig.Parameters

	clientTxs  chan types.Transaction
	getReqs    chan GetRequest
	verifyReqs chan VerifyRequest
	peerIn     chan interface{}

	maker *PayloadMaker

	// unproposed holds sealed-but-not-yet-proposed payload digests, FIFO.
	unproposed []types.Digest
	// pending requests awaiting a digest to arrive, served in order.
	pendingGets []GetRequest
}

// MempoolAddressBook is the subset of bftconfig's address book mempool
// needs to gossip payloads to peers.
type MempoolAddressBook interface {
	MempoolAddress(types.PublicKey) (string, bool)
}

// NewCore builds a mempool Core. ClientTxs returns the channel client
// connections should feed transactions into.
func NewCore(logger log.Logger, self *bftcrypto.KeyPair, oracle *bftcrypto.Oracle, comm *committee.Committee, st store.Store, sender *wire.Sender, addrs MempoolAddressBook, params bftconfig.Parameters) *Core {
	return &Core{
		log:        logger,
		self:       self,
		oracle:     oracle,
		comm:       comm,
		store:      st,
		sender:     sender,
		addrs:      addrs,
		params:     params,
		clientTxs:  make(chan types.Transaction, params.QueueCapacity),
		getReqs:    make(chan GetRequest, 16),
		verifyReqs: make(chan VerifyRequest, 16),
		peerIn:     make(chan interface{}, params.QueueCapacity),
		maker:      newSignedPayloadMaker(self, int(params.MaxPayloadSize)),
	}
}

func newSignedPayloadMaker(self *bftcrypto.KeyPair, maxSize int) *PayloadMaker {
	m := NewPayloadMaker(self.Public, maxSize)
	m.SetPrivateKey(self.Private)
	return m
}

// ClientTxs returns the channel a client-facing listener feeds raw
// transactions into. It blocks when full (spec §4.4: "Back-pressure:
// bounded channel of size ≥ 1000; client-facing channel blocks when
// full").
func (c *Core) ClientTxs() chan<- types.Transaction { return c.clientTxs }

// Get is the consensus-side request for fresh payload digests (spec §4.4).
func (c *Core) Get(ctx context.Context, max int) ([]types.Digest, error) {
	reply := make(chan []types.Digest, 1)
	select {
	case c.getReqs <- GetRequest{Max: max, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case digests := <-reply:
		return digests, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify is the consensus-side availability check (spec §4.4).
func (c *Core) Verify(ctx context.Context, digests []types.Digest) ([]types.Digest, error) {
	reply := make(chan []types.Digest, 1)
	select {
	case c.verifyReqs <- VerifyRequest{Digests: digests, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case missing := <-reply:
		return missing, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandlePeerPayload feeds a Payload gossiped by a peer into the core.
func (c *Core) HandlePeerPayload(p *types.Payload) {
	c.peerIn <- peerPayload{payload: p}
}

// HandlePeerPayloadRequest feeds a peer's PayloadRequest into the core.
func (c *Core) HandlePeerPayloadRequest(digest types.Digest, requester types.PublicKey) {
	c.peerIn <- peerPayloadRequest{digest: digest, requester: requester}
}

// Run drives the event loop until ctx is cancelled. All mempool state is
// owned exclusively by this goroutine; no locking is needed (spec §4.4,
// §5).
func (c *Core) Run(ctx context.Context) error {
	for {
		select {
		case tx := <-c.clientTxs:
			c.onClientTx(tx)
		case req := <-c.getReqs:
			c.onGet(req)
		case req := <-c.verifyReqs:
			c.onVerify(req)
		case ev := <-c.peerIn:
			c.onPeerEvent(ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Core) onClientTx(tx types.Transaction) {
	sealed := c.maker.Add(tx)
	if sealed == nil {
		return
	}
	c.sealAndBroadcast(sealed)
}

func (c *Core) sealAndBroadcast(p *types.Payload) {
	digest := p.Digest()
	if err := c.store.Write(digest, types.EncodePayload(p)); err != nil {
		c.log.Fatal(3, "failed to persist payload", zap.Error(err))
		return
	}
	c.unproposed = append(c.unproposed, digest)
	c.flushPendingGets()

	addrs := make([]string, 0, c.comm.Size())
	for _, m := range c.comm.Members() {
		if m.Public == c.self.Public {
			continue
		}
		if addr, ok := c.addrs.MempoolAddress(m.Public); ok {
			addrs = append(addrs, addr)
		}
	}
	c.sender.Broadcast(addrs, wire.PayloadMsg(p))
}

func (c *Core) onGet(req GetRequest) {
	if sealed := c.maker.Seal(); sealed != nil {
		c.sealAndBroadcast(sealed)
	}
	if len(c.unproposed) == 0 {
		c.pendingGets = append(c.pendingGets, req)
		return
	}
	c.replyGet(req)
}

func (c *Core) replyGet(req GetRequest) {
	n := req.Max
	if n > len(c.unproposed) {
		n = len(c.unproposed)
	}
	out := make([]types.Digest, n)
	copy(out, c.unproposed[:n])
	c.unproposed = c.unproposed[n:]
	req.Reply <- out
}

func (c *Core) flushPendingGets() {
	for len(c.pendingGets) > 0 && len(c.unproposed) > 0 {
		req := c.pendingGets[0]
		c.pendingGets = c.pendingGets[1:]
		c.replyGet(req)
	}
}

func (c *Core) onVerify(req VerifyRequest) {
	var missing []types.Digest
	for _, d := range req.Digests {
		if _, ok, err := c.store.Read(d); err != nil || !ok {
			missing = append(missing, d)
		}
	}
	req.Reply <- missing
	for _, d := range missing {
		c.requestPayload(d)
	}
}

func (c *Core) requestPayload(digest types.Digest) {
	leader := c.comm.Leader(0)
	addrs := make([]string, 0, c.comm.Size())
	for _, m := range c.comm.Members() {
		if m.Public == c.self.Public || m.Public == leader.Public {
			continue
		}
		if addr, ok := c.addrs.MempoolAddress(m.Public); ok {
			addrs = append(addrs, addr)
		}
	}
	c.sender.Broadcast(addrs, wire.PayloadRequestMsg(digest, c.self.Public))
}

func (c *Core) onPeerEvent(ev interface{}) {
	switch e := ev.(type) {
	case peerPayload:
		c.onPeerPayload(e.payload)
	case peerPayloadRequest:
		c.onPeerPayloadRequest(e.digest, e.requester)
	}
}

func (c *Core) onPeerPayload(p *types.Payload) {
	if !bftcrypto.Verify(p.Author, p.SigningDigest(), p.Signature) {
		c.log.Warn("dropping payload with invalid signature")
		return
	}
	digest := p.Digest()
	if err := c.store.Write(digest, types.EncodePayload(p)); err != nil {
		c.log.Fatal(3, "failed to persist peer payload", zap.Error(err))
	}
}

func (c *Core) onPeerPayloadRequest(digest types.Digest, requester types.PublicKey) {
	b, ok, err := c.store.Read(digest)
	if err != nil || !ok {
		return
	}
	p, err := types.DecodePayload(b)
	if err != nil {
		c.log.Warn("stored payload failed to decode")
		return
	}
	if addr, ok := c.addrs.MempoolAddress(requester); ok {
		c.sender.Send(addr, wire.PayloadMsg(p))
	}
}
