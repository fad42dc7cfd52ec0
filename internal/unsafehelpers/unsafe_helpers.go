// Package unsafehelpers centralises the unavoidable usage of the `unsafe`
// standard-library package so that the rest of sharedplan stays clean and
// easier to audit. Every helper is documented with clear pre-/post-
// conditions.
//
// DISCLAIMER: these helpers deliberately break the Go memory-safety model
// for the sake of zero-allocation conversions. Use only inside this
// repository; they are not part of the public API and may change without
// notice.
package unsafehelpers

import "unsafe"

// BytesToString converts a mutable byte slice to an immutable string
// without allocating. The caller must guarantee that b will never be
// modified for the lifetime of the resulting string.
//
// No code in this module currently calls it.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes re-interprets string data as a byte slice. The slice must
// remain read-only; writing to it mutates immutable string storage.
//
// Used by the walker to fold aliases, output column names and XML element
// names into the const_id accumulator without copying them.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
