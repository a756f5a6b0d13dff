package specgen

import (
	"sync/atomic"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// AddressBackend is a deterministic placeholder backend for build-time
// planning: it assigns monotonically increasing entry addresses and attaches
// no executable behaviour. Real instruction emission is an external
// collaborator; the build driver only needs stable addresses for the
// descriptor table.
type AddressBackend struct {
	next atomic.Uint64
}

// NewAddressBackend starts addresses at the given base.
func NewAddressBackend(base uint64) *AddressBackend {
	b := &AddressBackend{}
	b.next.Store(base)
	return b
}

// Emit assigns the next address.
func (b *AddressBackend) Emit(unit *ir.Unit, spec *Specialization) (Entry, error) {
	return Entry{Address: b.next.Add(16)}, nil
}
