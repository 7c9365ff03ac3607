// Package bftcrypto implements the crypto oracle (spec §4.1): ordinary
// Ed25519 signing/verification for blocks, payloads, and votes, plus a
// BLS12-381 signature-aggregation scheme standing in for the spec's
// (2f+1, n)-threshold service. The signature and threshold-signature
// *services* are themselves out of scope per spec §1 ("oracles producing
// signatures on given digests" — trivial external glue); this package is
// that glue, grounded in the teacher's crypto/bls package shape but backed
// by a real BLS12-381 binding instead of the teacher's placeholder XOR
// "signature".
package bftcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"

	"github.com/vanguardbft/consensus/types"
)

// domainSeparationTag pins the BLS signatures used here to this protocol,
// following the standard BLS ciphersuite convention (a fixed DST prevents
// cross-protocol signature reuse).
var domainSeparationTag = []byte("VANGUARD-BFT-BLS12381-SIG-V1")

// ThresholdPublicKey is a 48-byte compressed BLS12-381 G1 point.
type ThresholdPublicKey [48]byte

// KeyPair bundles the two key material kinds a replica holds: an Ed25519
// pair for ordinary block/payload/vote signatures, and a BLS12-381 pair
// used as this replica's share of the committee's threshold scheme (spec
// §6 Secret file: "{name, secret, threshold_share}").
type KeyPair struct {
	Public  types.PublicKey
	Private ed25519.PrivateKey

	ThresholdPublic  ThresholdPublicKey
	thresholdPrivate *blst.SecretKey
}

// GenerateKeyPair creates a fresh Ed25519 + BLS12-381 key pair, used by the
// `keys` CLI command (spec §6).
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("bftcrypto: generate ed25519 key: %w", err)
	}
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("bftcrypto: read ikm: %w", err)
	}
	sk := new(blst.SecretKey)
	sk.KeyGen(ikm[:])
	blsPub := new(blst.P1Affine).From(sk)

	var pk types.PublicKey
	copy(pk[:], pub)
	var tpk ThresholdPublicKey
	copy(tpk[:], blsPub.Compress())

	return &KeyPair{
		Public:           pk,
		Private:          priv,
		ThresholdPublic:  tpk,
		thresholdPrivate: sk,
	}, nil
}

// ThresholdPrivateBytes exposes the raw BLS scalar for persistence in the
// Secret file (spec §6). Loading reverses this with LoadThresholdPrivate.
func (k *KeyPair) ThresholdPrivateBytes() []byte {
	return k.thresholdPrivate.Serialize()
}

// LoadThresholdPrivate reconstructs the BLS secret key from bytes persisted
// in a Secret file.
func LoadThresholdPrivate(b []byte) (*blst.SecretKey, error) {
	sk := new(blst.SecretKey)
	if sk.Deserialize(b) == nil {
		return nil, fmt.Errorf("bftcrypto: malformed threshold secret key")
	}
	return sk, nil
}

// NewKeyPair reassembles a KeyPair from its persisted parts, used when
// loading a replica's Secret file at startup.
func NewKeyPair(pub types.PublicKey, priv ed25519.PrivateKey, thresholdPriv *blst.SecretKey) *KeyPair {
	blsPub := new(blst.P1Affine).From(thresholdPriv)
	var tpk ThresholdPublicKey
	copy(tpk[:], blsPub.Compress())
	return &KeyPair{
		Public:           pub,
		Private:          priv,
		ThresholdPublic:  tpk,
		thresholdPrivate: thresholdPriv,
	}
}
