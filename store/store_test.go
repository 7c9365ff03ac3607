package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/log"
	"github.com/vanguardbft/consensus/types"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := Open(t.TempDir(), log.NewNoOp())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	digest := types.HashDigest([]byte("payload-1"))

	_, ok, err := s.Read(digest)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Write(digest, []byte("hello")))
	got, ok, err := s.Read(digest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got)
}

func TestWriteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	digest := types.HashDigest([]byte("payload-2"))
	require.NoError(t, s.Write(digest, []byte("same")))
	require.NoError(t, s.Write(digest, []byte("same")))
	got, ok, err := s.Read(digest)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("same"), got)
}

func TestNotifyReadFulfillsImmediatelyWhenPresent(t *testing.T) {
	s := openTestStore(t)
	digest := types.HashDigest([]byte("already here"))
	require.NoError(t, s.Write(digest, []byte("v")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	select {
	case v := <-s.NotifyRead(ctx, digest):
		require.Equal(t, []byte("v"), v)
	case <-ctx.Done():
		t.Fatal("NotifyRead did not fulfil immediately for an already-present key")
	}
}

func TestNotifyReadFulfillsOnLaterWrite(t *testing.T) {
	s := openTestStore(t)
	digest := types.HashDigest([]byte("missing ancestor"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch := s.NotifyRead(ctx, digest)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.Write(digest, []byte("arrived"))
	}()

	select {
	case v := <-ch:
		require.Equal(t, []byte("arrived"), v)
	case <-ctx.Done():
		t.Fatal("NotifyRead never fulfilled after the write")
	}
}

func TestNotifyReadNeverFulfilsAfterContextCancellation(t *testing.T) {
	s := openTestStore(t)
	digest := types.HashDigest([]byte("never arrives"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ch := s.NotifyRead(ctx, digest)
	<-ctx.Done()

	// A caller waiting on ctx must give up rather than the channel itself;
	// a late write after cancellation must not deadlock the store either.
	select {
	case <-ch:
		t.Fatal("no value should ever arrive once the waiter's context is done")
	default:
	}
	require.NoError(t, s.Write(digest, []byte("too late")))
}
