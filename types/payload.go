package types

import "fmt"

// Payload is a signed batch of client transactions, gossiped between
// mempools and referenced by digest from a Block (spec §3).
//
// Invariant: Signature verifies under Author's key over the digest of
// (author ‖ concatenated transactions); the digest of a Payload is
// deterministic across runs (spec invariant 6).
type Payload struct {
	Transactions []Transaction
	Author       PublicKey
	Signature    Signature
}

// SigningDigest returns the digest a Payload's signature is computed over:
// author ‖ concatenated transactions (spec §3).
func (p *Payload) SigningDigest() Digest {
	buf := make([]byte, 0, PublicKeySize+payloadBytesLen(p.Transactions))
	buf = append(buf, p.Author[:]...)
	for _, tx := range p.Transactions {
		buf = append(buf, tx...)
	}
	return HashDigest(buf)
}

func payloadBytesLen(txs []Transaction) int {
	n := 0
	for _, tx := range txs {
		n += len(tx)
	}
	return n
}

// Digest is the content address the Payload is persisted under: the hash
// of its canonical encoding (author, signature, and transactions all
// included, so two payloads with the same transactions but different
// authors never collide).
func (p *Payload) Digest() Digest {
	return HashDigest(EncodePayload(p))
}

func (p *Payload) String() string {
	return fmt.Sprintf("Payload{author=%s txs=%d}", p.Author, len(p.Transactions))
}

// Size is the number of transaction bytes this payload carries, the
// quantity the mempool's PayloadMaker compares against max_payload_size.
func (p *Payload) Size() int {
	return payloadBytesLen(p.Transactions)
}
