package bftcrypto

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/vanguardbft/consensus/types"
)

var (
	ErrOracleClosed  = errors.New("bftcrypto: oracle closed")
	ErrBadSignature  = errors.New("bftcrypto: signature does not verify")
	ErrNotEnoughSigs = errors.New("bftcrypto: fewer than the required threshold of shares")
)

// signRequest is the unit of work handed to the oracle's dedicated signing
// worker; the digest is signed off the caller's goroutine so a burst of
// votes doesn't serialize behind Ed25519's (cheap but non-zero) signing
// cost on the core's own event loop (spec §4.1: "async; backed by a
// dedicated worker to amortize cost").
type signRequest struct {
	digest types.Digest
	reply  chan signResult
}

type signResult struct {
	sig types.Signature
	err error
}

// Oracle is the per-replica crypto service: one dedicated worker goroutine
// signing on behalf of the local replica, plus pure verification functions
// usable from any goroutine (spec §4.1).
type Oracle struct {
	keys *KeyPair

	requests chan signRequest
	done     chan struct{}
}

// NewOracle starts the oracle's signing worker. Callers must call Close
// when the replica shuts down.
func NewOracle(keys *KeyPair) *Oracle {
	o := &Oracle{
		keys:     keys,
		requests: make(chan signRequest, 64),
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Oracle) run() {
	for {
		select {
		case req := <-o.requests:
			sig := ed25519.Sign(o.keys.Private, req.digest[:])
			var out types.Signature
			copy(out[:], sig)
			req.reply <- signResult{sig: out}
		case <-o.done:
			return
		}
	}
}

// Close stops the signing worker. Safe to call once.
func (o *Oracle) Close() { close(o.done) }

// Sign produces an ordinary Ed25519 signature over digest, asynchronously
// via the dedicated worker (spec §4.1 "sign(digest) → signature").
func (o *Oracle) Sign(ctx context.Context, digest types.Digest) (types.Signature, error) {
	reply := make(chan signResult, 1)
	select {
	case o.requests <- signRequest{digest: digest, reply: reply}:
	case <-ctx.Done():
		return types.Signature{}, ctx.Err()
	case <-o.done:
		return types.Signature{}, ErrOracleClosed
	}
	select {
	case res := <-reply:
		return res.sig, res.err
	case <-ctx.Done():
		return types.Signature{}, ctx.Err()
	}
}

// Verify checks an ordinary Ed25519 signature over digest under pk (spec
// §4.1 "verify(pk, digest, sig)").
func Verify(pk types.PublicKey, digest types.Digest, sig types.Signature) bool {
	return ed25519.Verify(pk.Ed25519(), digest[:], sig[:])
}

// ThresholdSignShare produces this replica's partial BLS signature over
// digest (spec §4.1 "threshold_sign_share(digest)"). Unlike ordinary
// signing this is cheap enough to run inline; no dedicated worker is
// needed for it.
func (o *Oracle) ThresholdSignShare(digest types.Digest) []byte {
	sig := new(blst.P2Affine).Sign(o.keys.thresholdPrivate, digest[:], domainSeparationTag)
	return sig.Compress()
}

// ThresholdVerifyShare checks a single partial signature under a
// committee member's threshold public key. The aggregators in
// consensus/common do not call it: they combine shares without checking
// them one by one.
func ThresholdVerifyShare(pk ThresholdPublicKey, digest types.Digest, share []byte) bool {
	sigAff := new(blst.P2Affine).Uncompress(share)
	if sigAff == nil {
		return false
	}
	pkAff := new(blst.P1Affine).Uncompress(pk[:])
	if pkAff == nil {
		return false
	}
	return sigAff.Verify(true, pkAff, true, digest[:], domainSeparationTag)
}

// ThresholdCombine aggregates the given shares into a single signature
// (spec §4.1 "threshold_combine(shares) → threshold_sig"). It rejects
// only an empty list or a malformed share; it neither counts the shares
// against 2f+1 nor verifies them.
func ThresholdCombine(shares [][]byte) (types.ThresholdSignature, error) {
	if len(shares) == 0 {
		return types.ThresholdSignature{}, ErrNotEnoughSigs
	}
	sigs := make([]*blst.P2Affine, 0, len(shares))
	for _, s := range shares {
		aff := new(blst.P2Affine).Uncompress(s)
		if aff == nil {
			return types.ThresholdSignature{}, fmt.Errorf("bftcrypto: malformed threshold share")
		}
		sigs = append(sigs, aff)
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateAffine(sigs, true) {
		return types.ThresholdSignature{}, fmt.Errorf("bftcrypto: failed to aggregate threshold shares")
	}
	combined := agg.ToAffine()
	var out types.ThresholdSignature
	copy(out[:], combined.Compress())
	return out, nil
}

// ThresholdVerify checks a combined threshold signature against the set of
// threshold public keys that are claimed to have contributed a share
// (spec §4.1 "threshold_verify"). This realizes the spec's "(2f+1, n)
// threshold scheme" as BLS aggregate-signature verification over the
// reporting quorum's public keys: the signature is unique and verifiable
// for a given signer set. It does not check how many keys pks holds; the
// 2f+1 count is enforced by committee.ThresholdPublicKeysFor. See
// DESIGN.md for why this
// stands in for a full
// non-interactive DKG-based threshold scheme.
func ThresholdVerify(pks []ThresholdPublicKey, digest types.Digest, sig types.ThresholdSignature) bool {
	if len(pks) == 0 {
		return false
	}
	sigAff := new(blst.P2Affine).Uncompress(sig[:])
	if sigAff == nil {
		return false
	}
	pkAffs := make([]*blst.P1Affine, 0, len(pks))
	for _, pk := range pks {
		aff := new(blst.P1Affine).Uncompress(pk[:])
		if aff == nil {
			return false
		}
		pkAffs = append(pkAffs, aff)
	}
	aggPk := new(blst.P1Aggregate)
	if !aggPk.AggregateAffine(pkAffs, true) {
		return false
	}
	combinedPk := aggPk.ToAffine()
	return sigAff.Verify(true, combinedPk, true, digest[:], domainSeparationTag)
}
