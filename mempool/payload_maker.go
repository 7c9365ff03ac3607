package mempool

import (
	"crypto/ed25519"

	"github.com/vanguardbft/consensus/types"
)

// PayloadMaker accumulates client transactions into a payload batch and
// seals it once the batch would exceed the configured max_payload_size
// (spec §4.4: "When accumulated size would exceed max_payload_size, seal
// the batch into a Payload").
type PayloadMaker struct {
	author  types.PublicKey
	private ed25519.PrivateKey
	maxSize int

	pending []types.Transaction
	size    int
}

func NewPayloadMaker(author types.PublicKey, maxSize int) *PayloadMaker {
	return &PayloadMaker{author: author, maxSize: maxSize}
}

// SetPrivateKey wires the signing key in separately from the constructor
// so callers that only need read access (tests) can build a PayloadMaker
// without handling key material.
func (m *PayloadMaker) SetPrivateKey(priv ed25519.PrivateKey) { m.private = priv }

// Add appends tx to the in-progress batch. If the batch would now exceed
// max_payload_size, it seals and returns the sealed Payload; the new tx
// starts the next batch.
func (m *PayloadMaker) Add(tx types.Transaction) *types.Payload {
	if m.size+len(tx) > m.maxSize && len(m.pending) > 0 {
		sealed := m.seal()
		m.pending = append(m.pending, tx)
		m.size = len(tx)
		return sealed
	}
	m.pending = append(m.pending, tx)
	m.size += len(tx)
	return nil
}

// Seal force-seals the in-progress batch if non-empty, used when the
// consensus core asks for fresh digests and nothing has crossed the size
// threshold yet (spec §4.4: "Consensus Get(max_count) ... seal the
// in-progress batch if non-empty").
func (m *PayloadMaker) Seal() *types.Payload {
	if len(m.pending) == 0 {
		return nil
	}
	return m.seal()
}

func (m *PayloadMaker) seal() *types.Payload {
	p := &types.Payload{Transactions: m.pending, Author: m.author}
	sig := ed25519.Sign(m.private, p.SigningDigest()[:])
	copy(p.Signature[:], sig)
	m.pending = nil
	m.size = 0
	return p
}
