package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/types"
)

func newTestPacemaker(delay time.Duration) *Pacemaker {
	p := NewPacemaker(bftconfig.Parameters{TimeoutDelayMs: 5000})
	p.delay = delay
	return p
}

func TestPacemakerFiresExpiredForArmedRound(t *testing.T) {
	p := newTestPacemaker(10 * time.Millisecond)
	p.Arm(types.Round(3))

	select {
	case r := <-p.Expired:
		require.Equal(t, types.Round(3), r)
	case <-time.After(time.Second):
		t.Fatal("pacemaker never fired")
	}
}

func TestRearmingCancelsTheOlderRoundsDeadline(t *testing.T) {
	p := newTestPacemaker(30 * time.Millisecond)
	p.Arm(types.Round(1))
	time.Sleep(5 * time.Millisecond)
	p.Arm(types.Round(2))

	select {
	case r := <-p.Expired:
		require.Equal(t, types.Round(2), r, "only the latest-armed round's deadline must ever fire")
	case <-time.After(time.Second):
		t.Fatal("pacemaker never fired after rearming")
	}

	select {
	case r := <-p.Expired:
		t.Fatalf("unexpected second expiry for round %d", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStopPreventsAPendingDeadlineFromFiring(t *testing.T) {
	p := newTestPacemaker(20 * time.Millisecond)
	p.Arm(types.Round(7))
	p.Stop()

	select {
	case r := <-p.Expired:
		t.Fatalf("unexpected expiry for round %d after Stop", r)
	case <-time.After(60 * time.Millisecond):
	}
}
