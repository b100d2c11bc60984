// Package metrics defines the billing metrics sink and its implementations.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives billing units computed by the billing meter. Implementations
// must be safe for concurrent use; the facade reports from background tasks.
type Sink interface {
	AddCachedStorageReadUnits(n uint32)
	AddUncachedStorageReadUnits(n uint32)
	AddStorageWriteUnits(n uint32)
	AddStorageDeletes(n uint32)
}

// Noop discards all reported units.
type Noop struct{}

func (Noop) AddCachedStorageReadUnits(uint32)   {}
func (Noop) AddUncachedStorageReadUnits(uint32) {}
func (Noop) AddStorageWriteUnits(uint32)        {}
func (Noop) AddStorageDeletes(uint32)           {}

// OTel reports billing units as OpenTelemetry monotonic counters.
type OTel struct {
	readUnits  metric.Int64Counter
	writeUnits metric.Int64Counter
	deletes    metric.Int64Counter

	cachedAttrs   metric.AddOption
	uncachedAttrs metric.AddOption
}

// NewOTel creates a sink reporting through the given meter.
func NewOTel(meter metric.Meter) (*OTel, error) {
	readUnits, err := meter.Int64Counter("actorstore.storage.read_units",
		metric.WithDescription("Billable storage read units."))
	if err != nil {
		return nil, err
	}
	writeUnits, err := meter.Int64Counter("actorstore.storage.write_units",
		metric.WithDescription("Billable storage write units."))
	if err != nil {
		return nil, err
	}
	deletes, err := meter.Int64Counter("actorstore.storage.deletes",
		metric.WithDescription("Billable storage delete operations."))
	if err != nil {
		return nil, err
	}
	return &OTel{
		readUnits:     readUnits,
		writeUnits:    writeUnits,
		deletes:       deletes,
		cachedAttrs:   metric.WithAttributes(attribute.String("cache", "hit")),
		uncachedAttrs: metric.WithAttributes(attribute.String("cache", "miss")),
	}, nil
}

func (s *OTel) AddCachedStorageReadUnits(n uint32) {
	s.readUnits.Add(context.Background(), int64(n), s.cachedAttrs)
}

func (s *OTel) AddUncachedStorageReadUnits(n uint32) {
	s.readUnits.Add(context.Background(), int64(n), s.uncachedAttrs)
}

func (s *OTel) AddStorageWriteUnits(n uint32) {
	s.writeUnits.Add(context.Background(), int64(n))
}

func (s *OTel) AddStorageDeletes(n uint32) {
	s.deletes.Add(context.Background(), int64(n))
}
