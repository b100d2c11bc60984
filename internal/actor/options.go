package actor

// opName identifies the operation for error formatting. A plain enum passed
// into shared helpers; no dynamic dispatch.
type opName string

const (
	opGet         opName = "get()"
	opGetAlarm    opName = "getAlarm()"
	opList        opName = "list()"
	opPut         opName = "put()"
	opSetAlarm    opName = "setAlarm()"
	opDelete      opName = "delete()"
	opDeleteAlarm opName = "deleteAlarm()"
	opDeleteAll   opName = "deleteAll()"
	opRollback    opName = "rollback()"
)

// Undefined marks a putMultiple entry that should be silently skipped, not
// deleted. Mirrors an explicitly-absent value from the scripted caller.
var Undefined undefinedValue

type undefinedValue struct{}

// GetOptions control read operations.
type GetOptions struct {
	AllowConcurrency bool
	NoCache          bool
}

// PutOptions control write and delete operations.
type PutOptions struct {
	AllowConcurrency bool
	AllowUnconfirmed bool
	NoCache          bool
}

// ListOptions control list operations. Pointer fields distinguish absent
// options from zero values.
type ListOptions struct {
	Start      *string
	StartAfter *string
	End        *string
	Prefix     string
	Limit      *int
	Reverse    bool

	AllowConcurrency bool
	NoCache          bool
}

// GetAlarmOptions control alarm reads. Alarm reads are always cacheable.
type GetAlarmOptions struct {
	AllowConcurrency bool
}

// SetAlarmOptions control alarm writes. Alarm writes are always cached.
type SetAlarmOptions struct {
	AllowConcurrency bool
	AllowUnconfirmed bool
}

// ListEntry is one decoded list result. Entries are returned in key order,
// descending when the list was reverse.
type ListEntry struct {
	Key   string
	Value any
}
