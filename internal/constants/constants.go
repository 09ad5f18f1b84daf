// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Pagination constants
const (
	// DefaultPageSize is the default number of faces returned by list commands
	DefaultPageSize = 100

	// MaxPageSize caps the limit accepted by the JSON API
	MaxPageSize = 1000

	// EmbeddingPageSize is the number of embeddings read per query when syncing the index
	EmbeddingPageSize = 1000

	// DefaultRunListLimit is the number of resolution runs shown by default
	DefaultRunListLimit = 20
)

// Ingest constants
const (
	// DuplicateIoUThreshold is the minimum Intersection over Union at which a
	// detection is treated as a re-extraction of a face already stored for the file
	DuplicateIoUThreshold = 0.9

	// IndexLogFlushInterval is the number of ingested faces between write-ahead log fsyncs
	IndexLogFlushInterval = 50

	// MaxLineSize bounds one JSON line of the intake file (large embeddings)
	MaxLineSize = 4 << 20
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for neighbor search
	WorkerPoolSize = 4
)
