package syncer

import (
	"sync"
	"time"

	"github.com/vanguardbft/consensus/bftconfig"
	"github.com/vanguardbft/consensus/types"
)

// Pacemaker arms a per-round deadline and emits a local timeout signal on
// expiry (spec §4.5 item 3: "a per-round deadline; on expiry, emit a
// local Timeout message"). Rearming for a new round implicitly cancels
// any still-pending timer for an older round.
type Pacemaker struct {
	delay time.Duration

	// Expired delivers the round whose deadline fired. Buffered so Stop
	// racing with an about-to-fire timer never blocks the timer goroutine.
	Expired chan types.Round

	mu      sync.Mutex
	timer   *time.Timer
	current types.Round
}

func NewPacemaker(params bftconfig.Parameters) *Pacemaker {
	return &Pacemaker{
		delay:   params.TimeoutDelay(),
		Expired: make(chan types.Round, 1),
	}
}

// Arm (re)starts the deadline for round. Any previous timer is stopped.
func (p *Pacemaker) Arm(round types.Round) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.current = round
	p.timer = time.AfterFunc(p.delay, func() {
		p.mu.Lock()
		fired := p.current == round
		p.mu.Unlock()
		if fired {
			select {
			case p.Expired <- round:
			default:
			}
		}
	})
}

// Stop disarms the pacemaker, e.g. when the replica shuts down.
func (p *Pacemaker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}
