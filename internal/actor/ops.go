package actor

import (
	"context"
	"sort"
	"time"

	"github.com/louisbranch/actorstore/internal/billing"
	"github.com/louisbranch/actorstore/internal/codec"
	"github.com/louisbranch/actorstore/internal/errors"
	"github.com/louisbranch/actorstore/internal/keyrange"
	"github.com/louisbranch/actorstore/internal/storage"
)

// ops is the operation set shared by the facade and its transactions. cache
// resolves the current operation target (the engine, or an open transaction
// handle) and fails once a transaction is closed. bill schedules a
// write/delete billing report; outside a transaction it runs behind the
// durability gate, inside one it accumulates until commit. Read billing never
// goes through bill: a read is billed the moment its result reaches the
// caller, via billRead.
type ops struct {
	s     *Storage
	cache func(op opName) (storage.Ops, error)
	bill  func(report func(m *billing.Meter))
}

// Get fetches and decodes a single key. A missing key resolves to nil.
func (o ops) Get(ctx context.Context, key string, opts GetOptions) (*storage.Future[any], error) {
	target, err := o.cache(opGet)
	if err != nil {
		return nil, err
	}
	res := target.Get(ctx, []byte(key), opts.read())
	return adaptWithStatus(o.s, res, opts.AllowConcurrency, func(buf []byte, cached bool) (any, error) {
		o.billRead(func(m *billing.Meter) { m.RecordSingleGet(len(buf), cached) })
		if buf == nil {
			return nil, nil
		}
		return codec.Deserialize(key, buf)
	}), nil
}

// GetMultiple fetches a batch of keys. Every requested key is present in the
// result map; missing keys map to nil.
func (o ops) GetMultiple(ctx context.Context, keys []string, opts GetOptions) (*storage.Future[map[string]any], error) {
	target, err := o.cache(opGet)
	if err != nil {
		return nil, err
	}
	unique := canonicalKeys(keys)
	requested := len(keys)
	res := target.GetMultiple(ctx, unique, opts.read())
	return adapt(o.s, res, opts.AllowConcurrency, func(entries []storage.Entry) (map[string]any, error) {
		o.billRead(func(m *billing.Meter) { m.RecordMultiGet(requested, entries) })
		out := make(map[string]any, len(unique))
		for _, key := range unique {
			out[string(key)] = nil
		}
		for _, entry := range entries {
			value, err := codec.Deserialize(string(entry.Key), entry.Value)
			if err != nil {
				return nil, err
			}
			out[string(entry.Key)] = value
		}
		return out, nil
	}), nil
}

// List returns decoded entries in key order, descending when Reverse is set.
// A range that cannot match any key resolves empty without consulting the
// engine or billing anything.
func (o ops) List(ctx context.Context, opts ListOptions) (*storage.Future[[]ListEntry], error) {
	rng, err := keyrange.Plan(keyrange.Options{
		Start:      opts.Start,
		StartAfter: opts.StartAfter,
		End:        opts.End,
		Prefix:     opts.Prefix,
		Limit:      opts.Limit,
		Reverse:    opts.Reverse,
	})
	if err != nil {
		return nil, err
	}
	if rng.Empty {
		return storage.Resolved[[]ListEntry](nil), nil
	}
	target, err := o.cache(opList)
	if err != nil {
		return nil, err
	}

	var end []byte
	if rng.End != nil {
		end = []byte(*rng.End)
	}
	var res storage.Result[[]storage.Entry]
	if rng.Reverse {
		res = target.ListReverse(ctx, []byte(rng.Start), end, rng.Limit, opts.read())
	} else {
		res = target.List(ctx, []byte(rng.Start), end, rng.Limit, opts.read())
	}
	return adaptWithStatus(o.s, res, opts.AllowConcurrency, func(entries []storage.Entry, cached bool) ([]ListEntry, error) {
		o.billRead(func(m *billing.Meter) { m.RecordListRead(entries, cached) })
		out := make([]ListEntry, 0, len(entries))
		for _, entry := range entries {
			value, err := codec.Deserialize(string(entry.Key), entry.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, ListEntry{Key: string(entry.Key), Value: value})
		}
		return out, nil
	}), nil
}

// Put writes a single key. The returned future is backpressure only: the
// write is accepted regardless of whether the caller awaits it.
func (o ops) Put(ctx context.Context, key string, value any, opts PutOptions) (*storage.Future[struct{}], error) {
	if _, undefined := value.(undefinedValue); undefined {
		return nil, errors.New(errors.CodeInvalidArgument,
			"%s: called with undefined value", opPut)
	}
	buf, err := codec.Serialize(value)
	if err != nil {
		return nil, err
	}
	target, err := o.cache(opPut)
	if err != nil {
		return nil, err
	}
	fut := target.Put(ctx, []byte(key), buf, opts.write())
	o.confirm(fut, opts)
	units := billing.Units(len(key)+len(buf), true)
	o.bill(func(m *billing.Meter) { m.RecordWrite(units) })
	return adaptBackpressure(o.s, fut, opts.AllowConcurrency), nil
}

// PutMultiple writes a batch of entries. Entries whose value is Undefined
// are silently skipped, not deleted. Serialization failures abort the whole
// batch before anything reaches the engine.
func (o ops) PutMultiple(ctx context.Context, entries map[string]any, opts PutOptions) (*storage.Future[struct{}], error) {
	keys := make([]string, 0, len(entries))
	for key, value := range entries {
		if _, skip := value.(undefinedValue); skip {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var units uint32
	pairs := make([]storage.KeyValue, 0, len(keys))
	for _, key := range keys {
		buf, err := codec.Serialize(entries[key])
		if err != nil {
			return nil, err
		}
		units += billing.Units(len(key)+len(buf), true)
		pairs = append(pairs, storage.KeyValue{Key: []byte(key), Value: buf})
	}

	target, err := o.cache(opPut)
	if err != nil {
		return nil, err
	}
	fut := target.PutMultiple(ctx, pairs, opts.write())
	o.confirm(fut, opts)
	if len(pairs) > 0 {
		o.bill(func(m *billing.Meter) { m.RecordWrite(units) })
	}
	return adaptBackpressure(o.s, fut, opts.AllowConcurrency), nil
}

// Delete removes a single key and reports whether it existed.
func (o ops) Delete(ctx context.Context, key string, opts PutOptions) (*storage.Future[bool], error) {
	target, err := o.cache(opDelete)
	if err != nil {
		return nil, err
	}
	res := target.Delete(ctx, []byte(key), opts.write())
	return adapt(o.s, res, opts.AllowConcurrency, func(existed bool) (bool, error) {
		count := 0
		if existed {
			count = 1
		}
		o.bill(func(m *billing.Meter) { m.RecordDelete(count) })
		return existed, nil
	}), nil
}

// DeleteMultiple removes a batch of keys and reports how many existed.
// Billing counts the requested keys, not the deleted ones.
func (o ops) DeleteMultiple(ctx context.Context, keys []string, opts PutOptions) (*storage.Future[int], error) {
	target, err := o.cache(opDelete)
	if err != nil {
		return nil, err
	}
	unique := canonicalKeys(keys)
	res := target.DeleteMultiple(ctx, unique, opts.write())
	o.bill(func(m *billing.Meter) { m.RecordMultiDelete(len(keys)) })
	return adapt(o.s, res, opts.AllowConcurrency, func(count int) (int, error) {
		return count, nil
	}), nil
}

// GetAlarm returns the scheduled alarm time, or nil when none is set. Alarm
// reads are not billed.
func (o ops) GetAlarm(ctx context.Context, opts GetAlarmOptions) (*storage.Future[*time.Time], error) {
	target, err := o.cache(opGetAlarm)
	if err != nil {
		return nil, err
	}
	res := target.GetAlarm(ctx, opts.read())
	return adapt(o.s, res, opts.AllowConcurrency, func(at *time.Time) (*time.Time, error) {
		return at, nil
	}), nil
}

// SetAlarm schedules the actor's alarm. Timestamps at or before now are
// clamped up to now, so a stored alarm time is never in the past.
func (o ops) SetAlarm(ctx context.Context, at time.Time, opts SetAlarmOptions) (*storage.Future[struct{}], error) {
	if !o.s.hasAlarmHandler {
		return nil, errors.New(errors.CodePreconditionFailed,
			"%s: actor instance has no alarm handler", opSetAlarm)
	}
	if !at.After(time.Unix(0, 0)) {
		return nil, errors.New(errors.CodeInvalidArgument,
			"%s: alarm time must be after the unix epoch", opSetAlarm)
	}
	if now := o.s.clock(); at.Before(now) {
		at = now
	}
	target, err := o.cache(opSetAlarm)
	if err != nil {
		return nil, err
	}
	fut := target.SetAlarm(ctx, &at, opts.write())
	o.confirm(fut, PutOptions{AllowUnconfirmed: opts.AllowUnconfirmed})
	o.bill(func(m *billing.Meter) { m.RecordAlarmWrite() })
	return adaptBackpressure(o.s, fut, opts.AllowConcurrency), nil
}

// DeleteAlarm clears the actor's alarm. Allowed even without an alarm
// handler, so a stale alarm can always be removed. Clearing is free: only
// setAlarm bills a write unit.
func (o ops) DeleteAlarm(ctx context.Context, opts SetAlarmOptions) (*storage.Future[struct{}], error) {
	target, err := o.cache(opDeleteAlarm)
	if err != nil {
		return nil, err
	}
	fut := target.SetAlarm(ctx, nil, opts.write())
	o.confirm(fut, PutOptions{AllowUnconfirmed: opts.AllowUnconfirmed})
	return adaptBackpressure(o.s, fut, opts.AllowConcurrency), nil
}

// confirm places a write's durability future behind the output gate so
// outbound effects wait for it, unless the caller opted out.
func (o ops) confirm(fut *storage.Future[struct{}], opts PutOptions) {
	if fut == nil || opts.AllowUnconfirmed {
		return
	}
	o.s.outputGate.Lock(fut)
}

// billRead reports read billing immediately. A result that reached the
// caller is billable no matter what happens to the durability gate
// afterwards.
func (o ops) billRead(report func(m *billing.Meter)) {
	report(o.s.meter)
}

// canonicalKeys sorts and deduplicates a batch key set for the engine call.
// Billing always counts the raw requested keys, duplicates included.
func canonicalKeys(keys []string) [][]byte {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	out := make([][]byte, 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		out = append(out, []byte(key))
	}
	return out
}
