// Package errors provides structured error handling for storage operations.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidArgument indicates a caller-supplied argument failed
	// validation before any engine call was made.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodePreconditionFailed indicates the operation is not available in the
	// current state of the actor (no alarm handler, no SQL backing, ...).
	CodePreconditionFailed Code = "FAILED_PRECONDITION"

	// CodeSerialization indicates a value could not be serialized.
	CodeSerialization Code = "SERIALIZATION_FAILED"

	// CodeDataCorruption indicates a stored value could not be decoded. The
	// error carries metadata only, never decoded payload bytes.
	CodeDataCorruption Code = "DATA_CORRUPTION"

	// CodeHostTerminated indicates the runtime terminated while decoding a
	// value. Tracked separately from CodeDataCorruption so it is excluded
	// from storage corruption accounting.
	CodeHostTerminated Code = "HOST_TERMINATED"

	// CodeTransactionClosed indicates an operation was issued against a
	// transaction that has already committed or rolled back.
	CodeTransactionClosed Code = "TRANSACTION_CLOSED"

	// CodeEngine indicates a pass-through engine failure.
	CodeEngine Code = "ENGINE_FAILED"
)
