package secrets

import "sync"

// The process-wide registry tracks every live store so shutdown paths can
// wipe all secret material with one call. Registration happens in New and
// removal in Close; CleanupAll may be called from any goroutine.
var registry = struct {
	mu     sync.Mutex
	stores map[*Store]struct{}
}{stores: make(map[*Store]struct{})}

func register(s *Store) {
	registry.mu.Lock()
	registry.stores[s] = struct{}{}
	registry.mu.Unlock()
}

func deregister(s *Store) {
	registry.mu.Lock()
	delete(registry.stores, s)
	registry.mu.Unlock()
}

// CleanupAll clears every live store. A panic while clearing one store never
// prevents the others from being wiped, so this is safe to run as the last
// thing before process exit.
func CleanupAll() {
	registry.mu.Lock()
	stores := make([]*Store, 0, len(registry.stores))
	for s := range registry.stores {
		stores = append(stores, s)
	}
	registry.mu.Unlock()

	for _, s := range stores {
		func() {
			defer func() { _ = recover() }()
			s.clear(ClearReasonShutdown)
		}()
	}
}

// liveCount reports the number of registered stores; used by tests and the
// metrics gauge.
func liveCount() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.stores)
}

// LiveStores returns the number of stores currently registered.
func LiveStores() int {
	return liveCount()
}
