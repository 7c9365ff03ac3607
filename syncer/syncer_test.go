package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/store"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/wire"
)

type fakeAddressBook map[types.PublicKey]string

func (f fakeAddressBook) Address(pk types.PublicKey) (string, bool) {
	addr, ok := f[pk]
	return addr, ok
}

func newTestSyncer(t *testing.T, n int) (*Syncer, *committee.Committee, types.PublicKey, store.Store) {
	t.Helper()
	members := make([]committee.Member, n)
	addrs := make(fakeAddressBook, n)
	for i := 0; i < n; i++ {
		kp, err := bftcrypto.GenerateKeyPair()
		require.NoError(t, err)
		members[i] = committee.Member{Name: string(rune('a' + i)), Public: kp.Public, ThresholdPublic: kp.ThresholdPublic, Address: "irrelevant"}
	}
	comm, err := committee.New(members)
	require.NoError(t, err)
	for _, m := range comm.Members() {
		addrs[m.Public] = "127.0.0.1:0"
	}

	st, err := store.Open(t.TempDir(), log.NewNoOp())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })

	sender := wire.NewSender(log.NewNoOp())
	self := comm.Members()[0].Public
	params := bftconfig.Parameters{SyncRetryDelayMs: 1000, QueueCapacity: 16}
	s := New(log.NewNoOp(), self, comm, st, sender, addrs, params)
	return s, comm, self, st
}

func TestSubmitResolvesImmediatelyForGenesisBlock(t *testing.T) {
	s, _, _, _ := newTestSyncer(t, 4)
	b := &types.Block{Round: 0, QC: types.GenesisQC()}

	s.Submit(context.Background(), b)
	select {
	case got := <-s.Resolved:
		require.Same(t, b, got)
	case <-time.After(time.Second):
		t.Fatal("genesis-parent block must resolve immediately")
	}
}

func TestSubmitResolvesImmediatelyWhenParentAlreadyStored(t *testing.T) {
	s, _, _, st := newTestSyncer(t, 4)
	parentDigest := types.HashDigest([]byte("parent block bytes"))
	require.NoError(t, st.Write(parentDigest, []byte("parent block bytes")))

	b := &types.Block{Round: 1, QC: types.QC{BlockDigest: parentDigest}}
	s.Submit(context.Background(), b)
	select {
	case got := <-s.Resolved:
		require.Same(t, b, got)
	case <-time.After(time.Second):
		t.Fatal("block must resolve immediately once its parent is already stored")
	}
}

func TestSubmitParksAndResolvesOnAncestorArrival(t *testing.T) {
	s, _, _, _ := newTestSyncer(t, 4)
	parentDigest := types.HashDigest([]byte("missing parent"))
	b := &types.Block{Round: 2, QC: types.QC{BlockDigest: parentDigest}, Author: s.comm.Members()[1].Public}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Submit(ctx, b)

	select {
	case <-s.Resolved:
		t.Fatal("block must not resolve before its ancestor arrives")
	case <-time.After(30 * time.Millisecond):
	}

	s.OnBlockArrived(parentDigest)
	select {
	case got := <-s.Resolved:
		require.Same(t, b, got)
	case <-time.After(time.Second):
		t.Fatal("block must resolve once OnBlockArrived fires for its parent")
	}
}

func TestForgetStopsChasingAnAncestor(t *testing.T) {
	s, _, _, _ := newTestSyncer(t, 4)
	parentDigest := types.HashDigest([]byte("abandoned parent"))
	b := &types.Block{Round: 3, QC: types.QC{BlockDigest: parentDigest}, Author: s.comm.Members()[1].Public}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Submit(ctx, b)
	s.Forget(parentDigest)

	// A later arrival of the forgotten ancestor must not resurrect the
	// dependent block, since nothing is tracking it anymore.
	s.OnBlockArrived(parentDigest)
	select {
	case <-s.Resolved:
		t.Fatal("a forgotten dependent must never be resolved")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleSyncRequestRepliesWhenBlockIsStored(t *testing.T) {
	s, comm, _, st := newTestSyncer(t, 4)
	b := &types.Block{Round: 5, QC: types.GenesisQC(), Author: comm.Members()[0].Public}
	digest := b.Digest()
	require.NoError(t, st.Write(digest, types.EncodeBlock(b)))

	s.HandleSyncRequest(&wire.SyncRequest{Digest: digest, Sender: comm.Members()[2].Public})
	// HandleSyncRequest enqueues onto the Sender's internal queue; absence
	// of a panic/error here is the behavioral contract since the queue is
	// otherwise unobservable without starting Run.
}

func TestHandleSyncRequestIsANoOpWhenBlockIsMissing(t *testing.T) {
	s, comm, _, _ := newTestSyncer(t, 4)
	s.HandleSyncRequest(&wire.SyncRequest{Digest: types.HashDigest([]byte("never stored")), Sender: comm.Members()[1].Public})
}
