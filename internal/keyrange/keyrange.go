// Package keyrange computes canonical key ranges for list operations.
//
// Keys are byte strings compared lexicographically; embedded zero bytes are
// significant. Go string comparison is already bytewise, so ranges are
// computed directly on strings.
package keyrange

import (
	"strings"

	"github.com/louisbranch/actorstore/internal/errors"
)

// Options are the caller-supplied list options relevant to range planning.
// Pointer fields distinguish "absent" from zero values.
type Options struct {
	Start      *string
	StartAfter *string
	End        *string
	Prefix     string
	Limit      *int
	Reverse    bool
}

// Range is a canonical [Start, End) scan. A nil End means no upper bound.
// Empty means no key can possibly match and the engine must not be
// consulted.
type Range struct {
	Start   string
	End     *string
	Limit   int
	Reverse bool
	Empty   bool
}

func emptyRange() Range {
	return Range{Empty: true}
}

// Plan normalizes list options into a canonical range.
func Plan(opts Options) (Range, error) {
	var start string
	if opts.Start != nil {
		if opts.StartAfter != nil {
			return Range{}, errors.New(errors.CodeInvalidArgument,
				"list() cannot be called with both start and startAfter values")
		}
		start = *opts.Start
	}
	if opts.StartAfter != nil {
		// Convert the exclusive startAfter into an inclusive start by
		// appending a single zero byte, the smallest possible successor key.
		start = *opts.StartAfter + "\x00"
	}

	limit := 0
	if opts.Limit != nil {
		if *opts.Limit <= 0 {
			return Range{}, errors.New(errors.CodeInvalidArgument, "list limit must be positive")
		}
		limit = *opts.Limit
	}

	var end *string
	if opts.End != nil {
		e := *opts.End
		end = &e
	}

	if prefix := opts.Prefix; prefix != "" {
		// Clamp start and end to include only keys with the prefix.
		if start < prefix {
			start = prefix
		} else if !strings.HasPrefix(start, prefix) {
			// start sorts after every key with the prefix.
			return emptyRange(), nil
		}

		// The first key sorting after all keys with the prefix: trim
		// trailing 0xff bytes, then increment the last remaining byte. A
		// prefix of only 0xff bytes covers the key space through the last
		// possible key, so it yields no upper bound.
		trimmed := strings.TrimRight(prefix, "\xff")
		if trimmed != "" {
			bump := []byte(trimmed)
			bump[len(bump)-1]++
			prefixEnd := string(bump)
			if end != nil {
				if *end <= prefix {
					// No key can match both the end and the prefix.
					return emptyRange(), nil
				} else if strings.HasPrefix(*end, prefix) {
					// end is within the prefix; keep it.
				} else {
					// end sorts after the prefix range; stop at its edge.
					end = &prefixEnd
				}
			} else {
				end = &prefixEnd
			}
		}
	}

	if end != nil && *end <= start {
		return emptyRange(), nil
	}

	return Range{Start: start, End: end, Limit: limit, Reverse: opts.Reverse}, nil
}
