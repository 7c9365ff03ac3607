// Package types holds the wire-level data model shared by every protocol
// core: digests, public keys, transactions, payloads, blocks, votes,
// quorum certificates, timeout certificates, and the coin used by the
// asynchronous protocols. None of these types know how to reach consensus;
// they are the plain data the three protocol cores operate on (spec §3,
// design note "free functions over plain data").
package types

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
)

// DigestSize is the width of every content-addressed key in the store.
const DigestSize = 32

// Digest is a 32-byte collision-resistant hash: SHA-512 truncated to its
// first 32 bytes (spec §3).
type Digest [DigestSize]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) IsZero() bool { return d == Digest{} }

// HashDigest computes the canonical digest of a byte string.
func HashDigest(b []byte) Digest {
	full := sha512.Sum512(b)
	var d Digest
	copy(d[:], full[:DigestSize])
	return d
}

// PublicKeySize is the width of an Ed25519 public key on the wire (spec §6:
// "public keys as 32-byte Ed25519 encodings").
const PublicKeySize = ed25519.PublicKeySize

// PublicKey identifies a committee member and verifies its ordinary
// (non-threshold) signatures.
type PublicKey [PublicKeySize]byte

func (pk PublicKey) String() string { return hex.EncodeToString(pk[:]) }

func (pk PublicKey) Bytes() []byte { b := make([]byte, PublicKeySize); copy(b, pk[:]); return b }

func (pk PublicKey) Ed25519() ed25519.PublicKey { return ed25519.PublicKey(pk[:]) }

// PublicKeyFromBytes reads a PublicKey from a 32-byte slice.
func PublicKeyFromBytes(b []byte) (PublicKey, bool) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, false
	}
	copy(pk[:], b)
	return pk, true
}

// Signature is an ordinary Ed25519 signature over a Digest.
type Signature [ed25519.SignatureSize]byte

func (s Signature) Bytes() []byte { b := make([]byte, len(s)); copy(b, s[:]); return b }

func SignatureFromBytes(b []byte) (Signature, bool) {
	var s Signature
	if len(b) != ed25519.SignatureSize {
		return s, false
	}
	copy(s[:], b)
	return s, true
}

// ThresholdSignatureSize is the width of a compressed BLS12-381 G2 point,
// the wire size of a combined threshold signature (spec §3 "QC"/"TC": the
// (2f+1, n)-threshold scheme's combined signature).
const ThresholdSignatureSize = 96

// ThresholdSignature is a combined BLS12-381 signature produced by
// bftcrypto.ThresholdCombine. It lives in types, not bftcrypto, so the wire
// codec (this package) can encode/decode QC/TC without importing the
// crypto package.
type ThresholdSignature [ThresholdSignatureSize]byte

func (s ThresholdSignature) Bytes() []byte { b := make([]byte, len(s)); copy(b, s[:]); return b }

func ThresholdSignatureFromBytes(b []byte) (ThresholdSignature, bool) {
	var s ThresholdSignature
	if len(b) != ThresholdSignatureSize {
		return s, false
	}
	copy(s[:], b)
	return s, true
}
