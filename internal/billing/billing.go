// Package billing converts storage operation sizes into billing units.
//
// The cached/uncached split depends on both per-entry cache status and a
// completely-cached flag for the whole operation. The rules are financially
// significant and live only here; call sites never re-derive them.
package billing

import (
	"log"

	"github.com/louisbranch/actorstore/internal/metrics"
	"github.com/louisbranch/actorstore/internal/storage"
)

// Unit is the quantization size for usage-based billing.
const Unit = 4096

// Units converts a byte count to billing units. With billAtLeastOne, zero
// bytes still bill one unit.
func Units(bytes int, billAtLeastOne bool) uint32 {
	if bytes <= 0 {
		if billAtLeastOne {
			return 1
		}
		return 0
	}
	units := bytes / Unit
	if bytes%Unit != 0 {
		units++
	}
	return uint32(units)
}

// Meter reports billing units for storage operations to a sink.
type Meter struct {
	sink metrics.Sink
}

// NewMeter creates a meter reporting to the given sink.
func NewMeter(sink metrics.Sink) *Meter {
	return &Meter{sink: sink}
}

// RecordListRead bills a list result. Bytes are summed per cache status;
// when the engine served everything from cache the uncached floor is
// disabled so a fully cached list bills zero uncached units. An empty result
// still bills exactly 1 uncached unit: going to the engine and finding
// nothing is billable by product policy.
func (m *Meter) RecordListRead(entries []storage.Entry, completelyCached bool) {
	var cachedBytes, uncachedBytes int
	for _, entry := range entries {
		size := len(entry.Key) + len(entry.Value)
		if entry.Status == storage.Cached {
			cachedBytes += size
		} else {
			uncachedBytes += size
		}
	}

	if cachedBytes == 0 && uncachedBytes == 0 {
		m.sink.AddUncachedStorageReadUnits(1)
		return
	}

	totalUnits := Units(cachedBytes+uncachedBytes, true)
	uncachedUnits := Units(uncachedBytes, !completelyCached)
	m.sink.AddUncachedStorageReadUnits(uncachedUnits)
	m.sink.AddCachedStorageReadUnits(totalUnits - uncachedUnits)
}

// RecordSingleGet bills a single-key read. A miss carries zero bytes and
// still bills one unit.
func (m *Meter) RecordSingleGet(bytes int, cached bool) {
	units := Units(bytes, true)
	if cached {
		m.sink.AddCachedStorageReadUnits(units)
	} else {
		m.sink.AddUncachedStorageReadUnits(units)
	}
}

// RecordMultiGet bills a multi-key read. Units are summed per entry. Every
// requested key absent from the result set bills one uncached unit as an
// existence check. An engine returning more entries than requested keys is
// logged and the surplus treated as zero.
func (m *Meter) RecordMultiGet(requestedKeys int, entries []storage.Entry) {
	var cachedUnits, uncachedUnits uint32
	for _, entry := range entries {
		units := Units(len(entry.Key)+len(entry.Value), true)
		if entry.Status == storage.Cached {
			cachedUnits += units
		} else {
			uncachedUnits += units
		}
	}

	leftoverKeys := 0
	if requestedKeys >= len(entries) {
		leftoverKeys = requestedKeys - len(entries)
	} else {
		log.Printf("billing: engine returned more entries than requested keys in multi-get: requested=%d returned=%d",
			requestedKeys, len(entries))
	}

	m.sink.AddCachedStorageReadUnits(cachedUnits)
	m.sink.AddUncachedStorageReadUnits(uncachedUnits + uint32(leftoverKeys))
}

// RecordWrite bills a write that has passed the durability gate.
func (m *Meter) RecordWrite(units uint32) {
	m.sink.AddStorageWriteUnits(units)
}

// RecordAlarmWrite bills an alarm write. Always one unit.
func (m *Meter) RecordAlarmWrite() {
	m.sink.AddStorageWriteUnits(1)
}

// RecordDelete bills a delete by actual count; a delete that removed
// nothing bills as one.
func (m *Meter) RecordDelete(count int) {
	if count <= 0 {
		count = 1
	}
	m.sink.AddStorageDeletes(uint32(count))
}

// RecordMultiDelete bills a multi-key delete by the requested key count,
// not the number actually deleted.
func (m *Meter) RecordMultiDelete(requestedKeys int) {
	m.sink.AddStorageDeletes(uint32(requestedKeys))
}
