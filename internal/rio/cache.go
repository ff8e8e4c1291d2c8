package rio

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// currentSourceVariable is the zone variable naming the selected source.
const currentSourceVariable = "currentsource"

// Callback receives every stored update for a device it is registered on.
// For zones it also receives updates of the source the zone is tuned to, in
// which case deviceID is the source identifier.
//
// Callbacks run on the session goroutine and must not block or wait on a
// command sent through the same client.
type Callback func(deviceID, variable, value string)

// CallbackID identifies a registration for later removal.
type CallbackID uint64

type callbackEntry struct {
	id CallbackID
	fn Callback
}

// Cache holds the latest known value of every observed device variable.
//
// Thread Safety: Store is called only by the session goroutine; reads are
// safe from any goroutine.
type Cache struct {
	mu    sync.RWMutex
	state map[string]map[string]string

	callbackMu sync.RWMutex
	callbacks  map[string][]callbackEntry
	byID       map[CallbackID]string
	nextID     CallbackID

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCache returns an empty cache. logger may be nil.
func NewCache(logger Logger) *Cache {
	return &Cache{
		state:     make(map[string]map[string]string),
		callbacks: make(map[string][]callbackEntry),
		byID:      make(map[CallbackID]string),
		logger:    logger,
	}
}

// Store records value for (deviceID, name) and notifies subscribers.
func (c *Cache) Store(deviceID, name, value string) {
	name = strings.ToLower(name)

	c.mu.Lock()
	vars, ok := c.state[deviceID]
	if !ok {
		vars = make(map[string]string)
		c.state[deviceID] = vars
	}
	vars[name] = value
	c.mu.Unlock()

	c.notify(deviceID, deviceID, name, value)

	if n, err := ParseSourceID(deviceID); err == nil {
		for _, zoneID := range c.zonesOnSource(n) {
			c.notify(zoneID, deviceID, name, value)
		}
	}
}

// Read returns the cached value or an error wrapping ErrUncachedVariable.
func (c *Cache) Read(deviceID, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.state[deviceID][strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUncachedVariable, deviceID, name)
	}
	return value, nil
}

// ReadOrDefault returns the cached value, or def when it is not cached.
func (c *Cache) ReadOrDefault(deviceID, name, def string) string {
	value, err := c.Read(deviceID, name)
	if err != nil {
		return def
	}
	return value
}

// Snapshot returns a copy of every cached variable of a device.
func (c *Cache) Snapshot(deviceID string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vars := c.state[deviceID]
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// Devices returns the sorted identifiers of every device with cached state.
func (c *Cache) Devices() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.state))
	for id := range c.state {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// AddCallback registers fn for updates of deviceID.
func (c *Cache) AddCallback(deviceID string, fn Callback) CallbackID {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()

	c.nextID++
	id := c.nextID
	c.callbacks[deviceID] = append(c.callbacks[deviceID], callbackEntry{id: id, fn: fn})
	c.byID[id] = deviceID
	return id
}

// RemoveCallback drops a registration. Unknown ids are ignored.
func (c *Cache) RemoveCallback(id CallbackID) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()

	deviceID, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.byID, id)

	entries := c.callbacks[deviceID]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(c.callbacks, deviceID)
	} else {
		c.callbacks[deviceID] = entries
	}
}

// zonesOnSource returns cached zones whose current source is source n.
func (c *Cache) zonesOnSource(n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zones []string
	for id, vars := range c.state {
		if !IsZoneID(id) {
			continue
		}
		current, ok := vars[currentSourceVariable]
		if !ok {
			continue
		}
		if cs, err := strconv.Atoi(strings.TrimSpace(current)); err == nil && cs == n {
			zones = append(zones, id)
		}
	}
	sort.Strings(zones)
	return zones
}

// notify invokes callbacks registered on target in registration order.
func (c *Cache) notify(target, deviceID, name, value string) {
	c.callbackMu.RLock()
	entries := c.callbacks[target]
	fns := make([]Callback, len(entries))
	for i, e := range entries {
		fns[i] = e.fn
	}
	c.callbackMu.RUnlock()

	for _, fn := range fns {
		c.invoke(fn, deviceID, name, value)
	}
}

// SetLogger sets the logger used to report callback panics.
func (c *Cache) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Cache) invoke(fn Callback, deviceID, name, value string) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if logger := c.getLogger(); logger != nil {
			logger.Error("variable callback panic",
				"device", deviceID, "variable", name, "panic", fmt.Sprint(r))
		}
	}()
	fn(deviceID, name, value)
}

func (c *Cache) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
