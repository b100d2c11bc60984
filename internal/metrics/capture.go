package metrics

import "sync"

// Capture is an in-memory sink for tests. It tallies every report.
type Capture struct {
	mu sync.Mutex

	CachedReadUnits   uint32
	UncachedReadUnits uint32
	WriteUnits        uint32
	Deletes           uint32
}

func (c *Capture) AddCachedStorageReadUnits(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CachedReadUnits += n
}

func (c *Capture) AddUncachedStorageReadUnits(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UncachedReadUnits += n
}

func (c *Capture) AddStorageWriteUnits(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WriteUnits += n
}

func (c *Capture) AddStorageDeletes(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deletes += n
}

// Snapshot returns the current tallies.
func (c *Capture) Snapshot() (cachedReads, uncachedReads, writes, deletes uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CachedReadUnits, c.UncachedReadUnits, c.WriteUnits, c.Deletes
}
