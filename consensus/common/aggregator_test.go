package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/types"
)

type testReplica struct {
	member committee.Member
	keys   *bftcrypto.KeyPair
	oracle *bftcrypto.Oracle
}

// newTestCommittee builds an n-replica committee with real Ed25519/BLS key
// material, grounded the same way consensus/common's own production code
// exercises bftcrypto and committee: no mocks, real signatures.
func newTestCommittee(t *testing.T, n int) (*committee.Committee, []testReplica) {
	t.Helper()
	replicas := make([]testReplica, n)
	members := make([]committee.Member, n)
	for i := 0; i < n; i++ {
		kp, err := bftcrypto.GenerateKeyPair()
		require.NoError(t, err)
		m := committee.Member{Name: string(rune('a' + i)), Public: kp.Public, ThresholdPublic: kp.ThresholdPublic}
		members[i] = m
		replicas[i] = testReplica{member: m, keys: kp, oracle: bftcrypto.NewOracle(kp)}
	}
	comm, err := committee.New(members)
	require.NoError(t, err)
	// New() sorts members; re-derive each replica's Member from the
	// sorted committee so index-based lookups below stay consistent.
	for i := range replicas {
		idx, ok := comm.IndexOf(replicas[i].keys.Public)
		require.True(t, ok)
		replicas[i].member = comm.Members()[idx]
	}
	t.Cleanup(func() {
		for _, r := range replicas {
			r.oracle.Close()
		}
	})
	return comm, replicas
}

func TestVoteAggregatorFormsQCAtQuorum_Individual(t *testing.T) {
	comm, replicas := newTestCommittee(t, 4) // f=1, quorum=3
	digest := types.HashDigest([]byte("block 5"))
	round := types.Round(5)

	agg := NewVoteAggregator(comm, digest, round, types.SchemeIndividual, 0)
	var qc types.QC
	var formed bool
	for i, r := range replicas {
		sig := signVote(t, r, digest, round)
		v := &types.Vote{BlockDigest: digest, Round: round, Author: r.member.Public, Signature: sig}
		q, f, err := agg.Add(v)
		require.NoError(t, err)
		if i < comm.Quorum()-1 {
			require.False(t, f, "must not form before quorum")
		}
		// Votes after the quorum vote return ok=false; keep the QC the
		// quorum vote formed.
		if f {
			qc, formed = q, f
		}
	}
	require.True(t, formed)
	require.Equal(t, digest, qc.BlockDigest)
	require.Equal(t, round, qc.Round)
	require.True(t, VerifyQC(comm, qc))
}

func TestVoteAggregatorRejectsDuplicateAndWrongRound(t *testing.T) {
	comm, replicas := newTestCommittee(t, 4)
	digest := types.HashDigest([]byte("block"))
	round := types.Round(1)
	agg := NewVoteAggregator(comm, digest, round, types.SchemeIndividual, 0)

	sig := signVote(t, replicas[0], digest, round)
	v := &types.Vote{BlockDigest: digest, Round: round, Author: replicas[0].member.Public, Signature: sig}
	_, formed, err := agg.Add(v)
	require.NoError(t, err)
	require.False(t, formed)

	// Duplicate from the same author is a silent no-op, not an error.
	_, formed, err = agg.Add(v)
	require.NoError(t, err)
	require.False(t, formed)

	wrong := &types.Vote{BlockDigest: digest, Round: round + 1, Author: replicas[1].member.Public, Signature: sig}
	_, _, err = agg.Add(wrong)
	require.Error(t, err)
}

func TestVoteAggregatorRejectsBadSignature(t *testing.T) {
	comm, replicas := newTestCommittee(t, 4)
	digest := types.HashDigest([]byte("block"))
	round := types.Round(2)
	agg := NewVoteAggregator(comm, digest, round, types.SchemeIndividual, 0)

	forged := &types.Vote{BlockDigest: digest, Round: round, Author: replicas[0].member.Public, Signature: types.Signature{0xFF}}
	_, formed, err := agg.Add(forged)
	require.Error(t, err)
	require.False(t, formed)
}

func TestThresholdQCVerifiesOnlyAgainstReportingQuorum(t *testing.T) {
	comm, replicas := newTestCommittee(t, 4) // quorum = 3
	digest := types.HashDigest([]byte("fallback proposal"))
	round := types.Round(9)

	agg := NewVoteAggregator(comm, digest, round, types.SchemeThreshold, 0)
	var qc types.QC
	var formed bool
	for i := 0; i < comm.Quorum(); i++ {
		r := replicas[i]
		v := &types.Vote{
			BlockDigest:    digest,
			Round:          round,
			Author:         r.member.Public,
			Signature:      signVote(t, r, digest, round),
			ThresholdShare: r.oracle.ThresholdSignShare(ThresholdVoteDigest(digest, round, 0)),
		}
		var err error
		qc, formed, err = agg.Add(v)
		require.NoError(t, err)
	}
	require.True(t, formed)
	require.Len(t, qc.ThresholdSigners, comm.Quorum())
	require.True(t, VerifyQC(comm, qc), "QC must verify against the reporting quorum's own aggregate key")

	// Tampering with the reported signer set (substituting a non-signer)
	// must break verification even though the raw signature bytes are
	// untouched — this is exactly the bug where verification used to
	// check against the full committee's aggregate key regardless of who
	// actually signed.
	tampered := qc
	tampered.ThresholdSigners = append([]types.PublicKey{}, qc.ThresholdSigners...)
	tampered.ThresholdSigners[0] = replicas[comm.Quorum()].member.Public
	require.False(t, VerifyQC(comm, tampered))

	// A QC reporting fewer than quorum signers must be rejected outright.
	short := qc
	short.ThresholdSigners = qc.ThresholdSigners[:comm.Quorum()-1]
	require.False(t, VerifyQC(comm, short))
}

func TestTimeoutAggregatorFormsTCAndVerifyTCRejectsForgery(t *testing.T) {
	comm, replicas := newTestCommittee(t, 4)
	round := types.Round(3)
	highQC := types.GenesisQC()

	agg := NewTimeoutAggregator(comm, round, types.SchemeIndividual)
	var tc *types.TC
	var formed bool
	for _, r := range replicas[:comm.Quorum()] {
		digest := TimeoutSigningDigest(round, highQC, r.member.Public)
		sig, err := r.oracle.Sign(context.Background(), digest)
		require.NoError(t, err)
		to := &types.Timeout{Round: round, HighQC: highQC, Author: r.member.Public, Signature: sig}
		var aerr error
		tc, formed, aerr = agg.Add(to)
		require.NoError(t, aerr)
	}
	require.True(t, formed)
	require.True(t, VerifyTC(comm, tc))

	forged := &types.TC{
		Round:      tc.Round,
		Scheme:     tc.Scheme,
		Individual: tc.Individual,
		HighQCs:    tc.HighQCs,
	}
	// A forged high_qc claim (inflating round 0 to round 50) must be
	// rejected: it changes the per-signer signing digest so the recorded
	// signatures no longer verify against it.
	forged.HighQCs = append([]types.QC{}, tc.HighQCs...)
	forged.HighQCs[0] = types.QC{BlockDigest: types.HashDigest([]byte("forged")), Round: 50}
	require.False(t, VerifyTC(comm, forged))
}

func TestVerifyTCRejectsNilAndBelowQuorum(t *testing.T) {
	comm, _ := newTestCommittee(t, 4)
	require.False(t, VerifyTC(comm, nil))
	require.False(t, VerifyTC(comm, &types.TC{Round: 1, Scheme: types.SchemeIndividual}))
	_ = comm
}

func signVote(t *testing.T, r testReplica, digest types.Digest, round types.Round) types.Signature {
	t.Helper()
	sig, err := r.oracle.Sign(context.Background(), VoteSigningDigest(digest, round, r.member.Public))
	require.NoError(t, err)
	return sig
}
