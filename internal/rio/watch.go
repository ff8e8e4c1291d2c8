package rio

import (
	"sort"
	"sync"
)

// watchRegistry tracks identifiers subscribed for push updates. It is the
// source of truth replayed after every connect.
type watchRegistry struct {
	mu      sync.Mutex
	devices map[string]struct{}
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{devices: make(map[string]struct{})}
}

func (w *watchRegistry) add(deviceID string) {
	w.mu.Lock()
	w.devices[deviceID] = struct{}{}
	w.mu.Unlock()
}

func (w *watchRegistry) remove(deviceID string) {
	w.mu.Lock()
	delete(w.devices, deviceID)
	w.mu.Unlock()
}

// list returns the watched identifiers in sorted order.
func (w *watchRegistry) list() []string {
	w.mu.Lock()
	ids := make([]string, 0, len(w.devices))
	for id := range w.devices {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	sort.Strings(ids)
	return ids
}

func watchCommand(deviceID string, on bool) string {
	if on {
		return "WATCH " + deviceID + " ON"
	}
	return "WATCH " + deviceID + " OFF"
}
