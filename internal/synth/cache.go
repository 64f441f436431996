package synth

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Cache enforces at-most-one resident model per process. Loading a new model
// releases the previous one before the load starts, so two synthesis handles
// are never resident together. Acquire calls are serialized; a second load
// cannot begin while one is in flight.
type Cache struct {
	mu       sync.Mutex
	loader   Loader
	resident *Handle
	log      *logrus.Logger
}

// NewCache builds the residency cache around a loader. One Cache exists per
// worker process; it is injected, not global.
func NewCache(loader Loader, log *logrus.Logger) *Cache {
	return &Cache{loader: loader, log: log}
}

// Acquire returns the handle for the named model, loading it if necessary.
// A cache hit returns the resident handle unchanged. On a miss the resident
// model is evicted and released before the new load begins; a failed load
// leaves the cache empty rather than caching a broken handle.
func (c *Cache) Acquire(modelName string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resident != nil && c.resident.ModelName == modelName {
		return c.resident, nil
	}

	if c.resident != nil {
		c.log.WithField("model", c.resident.ModelName).Info("evicting resident model")
		c.resident.Release()
		c.resident = nil
	}

	handle, err := c.loader.Load(modelName)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"model":  modelName,
		"family": handle.Family,
	}).Info("model loaded")

	c.resident = handle
	return handle, nil
}

// Resident returns the name of the resident model, or "" when empty.
func (c *Cache) Resident() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resident == nil {
		return ""
	}
	return c.resident.ModelName
}

// Close releases any resident model. Called once at process shutdown.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resident != nil {
		c.resident.Release()
		c.resident = nil
	}
}
