// Package rserr provides structured error handling for rice-search.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Validation errors
//   - 2XX: Not-found errors
//   - 3XX: Conflict errors
//   - 4XX: Capacity and throttling errors
//   - 5XX: Transient external errors
//   - 6XX: Internal errors
package rserr

// Kind classifies an error for surface mapping (HTTP status, gRPC code).
type Kind string

const (
	// KindValidation indicates invalid caller input. Never retried.
	KindValidation Kind = "VALIDATION"
	// KindNotFound indicates a missing store, version, file or tracker entry.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict indicates a version-state or duplicate-create conflict.
	KindConflict Kind = "CONFLICT"
	// KindCapacity indicates a quota or max-file-count limit was exceeded.
	KindCapacity Kind = "CAPACITY"
	// KindThrottled indicates worker-pool saturation. Client retry suggested.
	KindThrottled Kind = "THROTTLED"
	// KindTransient indicates a transient external failure (vector engine,
	// model service). Retried locally with backoff before surfacing.
	KindTransient Kind = "TRANSIENT"
	// KindPartial indicates a partially-completed operation.
	KindPartial Kind = "PARTIAL"
	// KindInternal indicates an unexpected internal error.
	KindInternal Kind = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by kind.
const (
	// Validation errors (100-199)
	CodeInvalidInput   = "ERR_101_INVALID_INPUT"
	CodeQueryEmpty     = "ERR_102_QUERY_EMPTY"
	CodeQueryTooLong   = "ERR_103_QUERY_TOO_LONG"
	CodeInvalidPath    = "ERR_104_INVALID_PATH"
	CodeInvalidStore   = "ERR_105_INVALID_STORE_NAME"
	CodeInvalidWeights = "ERR_106_INVALID_WEIGHTS"
	CodeInvalidConfig  = "ERR_107_INVALID_CONFIG"
	CodeContentTooBig  = "ERR_108_CONTENT_TOO_LARGE"

	// Not-found errors (200-299)
	CodeStoreNotFound   = "ERR_201_STORE_NOT_FOUND"
	CodeVersionNotFound = "ERR_202_VERSION_NOT_FOUND"
	CodeFileNotFound    = "ERR_203_FILE_NOT_FOUND"

	// Conflict errors (300-399)
	CodeStoreExists     = "ERR_301_STORE_EXISTS"
	CodeVersionState    = "ERR_302_VERSION_STATE"
	CodeDeleteActive    = "ERR_303_DELETE_ACTIVE_VERSION"
	CodeBuildInProgress = "ERR_304_BUILD_IN_PROGRESS"

	// Capacity / throttling errors (400-499)
	CodeQuotaExceeded = "ERR_401_QUOTA_EXCEEDED"
	CodeThrottled     = "ERR_402_THROTTLED"

	// Transient external errors (500-599)
	CodeEngineUnavailable = "ERR_501_ENGINE_UNAVAILABLE"
	CodeModelUnavailable  = "ERR_502_MODEL_UNAVAILABLE"
	CodeNetworkTimeout    = "ERR_503_NETWORK_TIMEOUT"

	// Internal errors (600-699)
	CodeInternal        = "ERR_601_INTERNAL"
	CodeEncodingFailed  = "ERR_602_ENCODING_FAILED"
	CodeChunkingFailed  = "ERR_603_CHUNKING_FAILED"
	CodeIndexFailed     = "ERR_604_INDEX_FAILED"
	CodeSearchFailed    = "ERR_605_SEARCH_FAILED"
	CodeCorruptMetadata = "ERR_606_CORRUPT_METADATA"
)

// kindFromCode extracts the kind from an error code prefix.
func kindFromCode(code string) Kind {
	if len(code) < 7 {
		return KindInternal
	}
	switch code[4] {
	case '1':
		return KindValidation
	case '2':
		return KindNotFound
	case '3':
		return KindConflict
	case '4':
		if code == CodeThrottled {
			return KindThrottled
		}
		return KindCapacity
	case '5':
		return KindTransient
	default:
		return KindInternal
	}
}

// isRetryableCode reports whether operations failing with this code may
// be retried with backoff.
func isRetryableCode(code string) bool {
	return kindFromCode(code) == KindTransient || code == CodeThrottled
}
