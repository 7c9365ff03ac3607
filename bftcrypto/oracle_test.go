package bftcrypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/types"
)

func TestOracleSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	oracle := NewOracle(kp)
	defer oracle.Close()

	digest := types.HashDigest([]byte("a committed block"))
	sig, err := oracle.Sign(context.Background(), digest)
	require.NoError(t, err)
	require.True(t, Verify(kp.Public, digest, sig))

	other := types.HashDigest([]byte("a different block"))
	require.False(t, Verify(kp.Public, other, sig), "signature must not verify over a different digest")
}

func TestOracleSignAfterCloseFails(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	oracle := NewOracle(kp)
	oracle.Close()

	_, err = oracle.Sign(context.Background(), types.HashDigest([]byte("x")))
	require.ErrorIs(t, err, ErrOracleClosed)
}

func TestThresholdShareVerification(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	oracle := NewOracle(kp)
	defer oracle.Close()

	digest := types.HashDigest([]byte("a view's coin"))
	share := oracle.ThresholdSignShare(digest)
	require.True(t, ThresholdVerifyShare(kp.ThresholdPublic, digest, share))

	otherDigest := types.HashDigest([]byte("a different view's coin"))
	require.False(t, ThresholdVerifyShare(kp.ThresholdPublic, otherDigest, share))
}

func TestThresholdCombineAndVerify(t *testing.T) {
	const n = 4
	digest := types.HashDigest([]byte("round 7 quorum"))

	keys := make([]*KeyPair, n)
	oracles := make([]*Oracle, n)
	for i := range keys {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)
		keys[i] = kp
		oracles[i] = NewOracle(kp)
		defer oracles[i].Close()
	}

	quorum := 3 // 2f+1 for f=1, n=4
	shares := make([][]byte, 0, quorum)
	pks := make([]ThresholdPublicKey, 0, quorum)
	for i := 0; i < quorum; i++ {
		s := oracles[i].ThresholdSignShare(digest)
		require.True(t, ThresholdVerifyShare(keys[i].ThresholdPublic, digest, s))
		shares = append(shares, s)
		pks = append(pks, keys[i].ThresholdPublic)
	}

	combined, err := ThresholdCombine(shares)
	require.NoError(t, err)
	require.True(t, ThresholdVerify(pks, digest, combined))

	// Swapping in a non-signer's public key must not verify.
	wrongPks := append([]ThresholdPublicKey{}, pks[:len(pks)-1]...)
	wrongPks = append(wrongPks, keys[n-1].ThresholdPublic)
	require.False(t, ThresholdVerify(wrongPks, digest, combined))

	// A combine over a different digest must not verify under the same keys.
	require.False(t, ThresholdVerify(pks, types.HashDigest([]byte("other")), combined))
}

func TestThresholdCombineRejectsEmptyShares(t *testing.T) {
	_, err := ThresholdCombine(nil)
	require.ErrorIs(t, err, ErrNotEnoughSigs)
}

func TestKeyPairPersistenceRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	priv := kp.ThresholdPrivateBytes()
	sk, err := LoadThresholdPrivate(priv)
	require.NoError(t, err)

	reloaded := NewKeyPair(kp.Public, kp.Private, sk)
	require.Equal(t, kp.ThresholdPublic, reloaded.ThresholdPublic)
}
