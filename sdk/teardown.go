package vai

import (
	"errors"
	"fmt"
	"sync"
)

// teardown releases a session's resources in reverse registration order.
type teardown struct {
	mu      sync.Mutex
	entries []teardownEntry
}

type teardownEntry struct {
	name string
	fn   func() error
}

func (t *teardown) add(name string, fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, teardownEntry{name: name, fn: fn})
}

// closeAll runs every entry newest first and joins their errors. Entries run
// once; a later closeAll only sees entries added since.
func (t *teardown) closeAll() error {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", entries[i].name, err))
		}
	}
	return errors.Join(errs...)
}
