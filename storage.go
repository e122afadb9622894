package flowcore

import (
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/eleven-am/flowcore/internal/adapters/storage"
)

// NewMemoryEngine wires an Engine to the in-memory Storage Port adapter:
// no durability across a process restart, suitable for tests and
// single-process demos.
func NewMemoryEngine(opts ...Option) *Engine {
	logger := resolveOptions(opts).logger
	return New(storage.NewMemoryStore(logger), opts...)
}

// NewBadgerEngine opens (creating if necessary) an embedded Badger database
// at dir and wires an Engine to it, the module's durable Storage Port
// adapter.
func NewBadgerEngine(dir string, opts ...Option) (*Engine, error) {
	logger := resolveOptions(opts).logger
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger database at %q: %w", dir, err)
	}
	return New(storage.NewBadgerStore(db, logger), opts...), nil
}
