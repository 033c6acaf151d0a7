// Package canon produces canonical JSON.
//
// The encoding follows RFC 8785 closely enough for hashing and golden
// comparison: object keys sorted by UTF-16 code units, no insignificant
// whitespace, strings NFC-normalised, no HTML escaping. Floats and nulls are
// rejected so that the same logical value always has exactly one encoding.
//
// Callers use it for identity fingerprints, size estimation of cached
// values, persisted preference columns and harness traces.
package canon
