package committee

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/types"
)

func makeMembers(t *testing.T, n int) []Member {
	t.Helper()
	members := make([]Member, n)
	for i := 0; i < n; i++ {
		kp, err := bftcrypto.GenerateKeyPair()
		require.NoError(t, err)
		members[i] = Member{Name: string(rune('a' + i)), Public: kp.Public, ThresholdPublic: kp.ThresholdPublic}
	}
	return members
}

func TestQuorumAndFaultsForStandardSizes(t *testing.T) {
	cases := []struct {
		n, f, q int
	}{
		{4, 1, 3},
		{7, 2, 5},
		{10, 3, 7},
	}
	for _, c := range cases {
		comm, err := New(makeMembers(t, c.n))
		require.NoError(t, err)
		require.Equal(t, c.f, comm.Faults())
		require.Equal(t, c.q, comm.Quorum())
	}
}

func TestLeaderIsDeterministicRoundRobin(t *testing.T) {
	comm, err := New(makeMembers(t, 4))
	require.NoError(t, err)
	for r := types.Round(0); r < 12; r++ {
		want := comm.Members()[uint64(r)%4]
		require.Equal(t, want.Public, comm.Leader(r).Public)
	}
	// Wraps around: round n and round 0 pick the same leader.
	require.Equal(t, comm.Leader(0).Public, comm.Leader(4).Public)
}

func TestNewRejectsEmptyAndDuplicateMembers(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	members := makeMembers(t, 2)
	members[1].Public = members[0].Public
	_, err = New(members)
	require.Error(t, err)
}

func TestIndexOfAndByIndexRoundTrip(t *testing.T) {
	comm, err := New(makeMembers(t, 5))
	require.NoError(t, err)
	for i, m := range comm.Members() {
		got, ok := comm.IndexOf(m.Public)
		require.True(t, ok)
		require.Equal(t, i, got)
		require.Equal(t, m.Public, comm.ByIndex(i).Public)
	}
	// ByIndex wraps modulo committee size.
	require.Equal(t, comm.Members()[0].Public, comm.ByIndex(5).Public)
}

func TestThresholdPublicKeysForRejectsBelowQuorumOrUnknownKey(t *testing.T) {
	members := makeMembers(t, 4)
	comm, err := New(members)
	require.NoError(t, err)

	signers := []types.PublicKey{members[0].Public, members[1].Public, members[2].Public}
	pks, ok := comm.ThresholdPublicKeysFor(signers)
	require.True(t, ok)
	require.Len(t, pks, 3)

	_, ok = comm.ThresholdPublicKeysFor(signers[:2])
	require.False(t, ok, "below quorum must be rejected")

	outsider, err := bftcrypto.GenerateKeyPair()
	require.NoError(t, err)
	_, ok = comm.ThresholdPublicKeysFor([]types.PublicKey{members[0].Public, members[1].Public, outsider.Public})
	require.False(t, ok, "a key outside the committee must be rejected")

	_, ok = comm.ThresholdPublicKeysFor([]types.PublicKey{members[0].Public, members[0].Public, members[1].Public})
	require.False(t, ok, "a duplicate signer must be rejected")
}
