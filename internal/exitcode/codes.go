package exitcode

// Exit codes for the hrrr-extract CLI.
// A scheduler can use these to decide retry strategy.
const (
	// Success - job completed successfully
	Success = 0

	// ConfigError - missing or invalid configuration, bad flags, unknown
	// variables or an unreadable points file
	// Don't retry: fix the invocation first
	ConfigError = 1

	// NetworkError - failed to reach or read the forecast object store
	// Retry with backoff
	NetworkError = 2

	// StorageError - failed to write to the sink or the raw archive
	// Retry with backoff
	StorageError = 4

	// DataError - a forecast file could not be decoded
	// Don't retry: investigate the data
	DataError = 5

	// NoRunAvailable - no complete run was published in the search window
	// Retry later
	NoRunAvailable = 6

	// Interrupted - the run was cancelled, e.g. by SIGINT or SIGTERM
	// Retry when appropriate
	Interrupted = 130
)
