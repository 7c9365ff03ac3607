package mempool

import (
	"context"

	"github.com/vanguardbft/consensus/types"
)

// Driver is the consensus-side proxy onto a mempool Core (spec: "Mempool
// driver: consensus-side proxy: request fresh payload digests, verify
// availability before voting"). It exists as its own type, distinct from
// Core, so a protocol core's dependency is the narrow two-method surface
// it actually uses rather than the whole mempool event loop.
type Driver interface {
	GetPayloadDigests(ctx context.Context, max int) ([]types.Digest, error)
	VerifyAvailable(ctx context.Context, digests []types.Digest) (missing []types.Digest, err error)
}

type coreDriver struct{ core *Core }

// NewDriver wraps a mempool Core as the Driver interface consensus cores
// depend on.
func NewDriver(core *Core) Driver { return &coreDriver{core: core} }

func (d *coreDriver) GetPayloadDigests(ctx context.Context, max int) ([]types.Digest, error) {
	return d.core.Get(ctx, max)
}

func (d *coreDriver) VerifyAvailable(ctx context.Context, digests []types.Digest) ([]types.Digest, error) {
	return d.core.Verify(ctx, digests)
}
