package rag

import "errors"

// Error taxonomy for the retrieval pipeline. Every failure raised by the
// pipeline wraps exactly one of these sentinels so callers can classify it
// with [errors.Is] without parsing messages.
var (
	// ErrInvalidConfiguration marks bad configuration values (e.g. a chunk
	// overlap that is not smaller than the chunk size, an unknown distance
	// metric). Fatal at startup; never retried.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDocumentUnreadable marks a PDF that could not be opened or yields
	// no extractable text. Reported per document — ingest of other
	// documents continues.
	ErrDocumentUnreadable = errors.New("document unreadable")

	// ErrBackendUnavailable marks a transport or model failure on the
	// embedding or generation backend. Surfaced to the caller of the
	// current operation; the core performs no automatic retries.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDimensionMismatch marks an insert whose vector length disagrees
	// with the index's established dimensionality. Fatal for the affected
	// batch; the index is left unchanged.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrModelMismatch marks a snapshot built with a different embedding
	// model than the one currently configured. The snapshot is rejected
	// rather than returning garbage distances.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrCorruptOrMissingIndex marks a snapshot load from a missing or
	// unparsable path. Callers that want fall-back-to-empty behaviour use
	// [Open] instead of [Load].
	ErrCorruptOrMissingIndex = errors.New("corrupt or missing index snapshot")

	// ErrNotReady marks a query attempted before any successful document
	// ingest. Always recoverable by loading a document first.
	ErrNotReady = errors.New("no documents loaded")
)
