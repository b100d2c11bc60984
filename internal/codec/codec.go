// Package codec serializes caller values for storage.
//
// Serialized form is a one-byte sentinel, a one-byte format version, and a
// CBOR payload. Early deployments wrote bare CBOR with no header; buffers
// whose first byte is not the sentinel are parsed under that fixed legacy
// format.
package codec

import (
	"encoding/hex"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/louisbranch/actorstore/internal/errors"
)

const (
	// sentinel marks a versioned header. 0xff never starts a valid CBOR
	// data item of the legacy format, so the two encodings are
	// distinguishable by the first byte.
	sentinel = 0xff

	// currentVersion is written by Serialize.
	currentVersion = 2

	// legacyVersion is assumed for headerless buffers.
	legacyVersion = 1
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSignedOrFail,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Serialize encodes a value with the current versioned header.
func Serialize(value any) ([]byte, error) {
	payload, err := encMode.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerialization, err, "value is not serializable")
	}
	buf := make([]byte, 0, len(payload)+2)
	buf = append(buf, sentinel, currentVersion)
	buf = append(buf, payload...)
	return buf, nil
}

// Deserialize decodes a stored buffer. The key is used only in diagnostics;
// decode failures never carry payload contents, just the key name, buffer
// length, and the first few header bytes.
func Deserialize(key string, buf []byte) (value any, err error) {
	defer func() {
		// A panic escaping the decoder means the runtime was torn down
		// mid-decode. Report it as a distinct condition so it is not
		// counted as stored-data corruption.
		if r := recover(); r != nil {
			value = nil
			err = errors.New(errors.CodeHostTerminated,
				"runtime terminated while decoding value for key %q", key)
		}
	}()

	if len(buf) == 0 {
		return nil, corruption(key, buf, nil)
	}

	payload := buf
	if buf[0] == sentinel {
		if len(buf) < 2 {
			return nil, corruption(key, buf, nil)
		}
		version := buf[1]
		if version == 0 || version > currentVersion {
			return nil, corruption(key, buf, nil)
		}
		payload = buf[2:]
	}
	// Headerless buffers decode directly at legacyVersion; the payload
	// layout is identical across versions so far, so no per-version
	// branching is needed yet.

	var out any
	if err := decMode.Unmarshal(payload, &out); err != nil {
		return nil, corruption(key, buf, err)
	}
	return out, nil
}

func corruption(key string, buf []byte, cause error) error {
	head := buf
	if len(head) > 3 {
		head = head[:3]
	}
	if cause != nil {
		return errors.Wrap(errors.CodeDataCorruption, cause,
			"failed to decode stored value: key=%q len=%d head=%s", key, len(buf), hex.EncodeToString(head))
	}
	return errors.New(errors.CodeDataCorruption,
		"failed to decode stored value: key=%q len=%d head=%s", key, len(buf), hex.EncodeToString(head))
}
