// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Run history constants
const (
	// DefaultRunListLimit is the default number of runs returned by a list request
	DefaultRunListLimit = 50

	// MaxRunListLimit caps the page size of run listings
	MaxRunListLimit = 500

	// DefaultRunSearchLimit is the default number of runs returned by a reference search
	DefaultRunSearchLimit = 20
)

// Job constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100

	// JobRetentionMinutes is how long finished jobs stay queryable before cleanup
	JobRetentionMinutes = 30

	// MaxConcurrentJobs bounds analyses running at once through the HTTP API
	MaxConcurrentJobs = 2
)

// Upload constants
const (
	// MultipartMemory is the part of a multipart upload kept in memory; the rest spills to disk
	MultipartMemory = 32 << 20
)
