// Package errors provides structured error handling for codectx.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Path and file errors
//   - 3XX: Embedding provider errors
//   - 4XX: Registry state errors
//   - 5XX: Vector store errors
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryPath indicates path and file errors.
	CategoryPath Category = "PATH"
	// CategoryEmbedding indicates embedding provider errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryState indicates registry state errors.
	CategoryState Category = "STATE"
	// CategoryStore indicates vector store errors.
	CategoryStore Category = "STORE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// Path errors (200-299)
	ErrCodePathNotFound     = "ERR_201_PATH_NOT_FOUND"
	ErrCodePathNotDirectory = "ERR_202_PATH_NOT_DIRECTORY"
	ErrCodePathPermission   = "ERR_203_PATH_PERMISSION"
	ErrCodeSnapshotCorrupt  = "ERR_204_SNAPSHOT_CORRUPT"
	ErrCodeRegistryCorrupt  = "ERR_205_REGISTRY_CORRUPT"

	// Embedding errors (300-399)
	ErrCodeEmbedAuth            = "ERR_301_EMBED_AUTHENTICATION"
	ErrCodeEmbedRateLimited     = "ERR_302_EMBED_RATE_LIMITED"
	ErrCodeEmbedTransport       = "ERR_303_EMBED_TRANSPORT"
	ErrCodeEmbedInvalidResponse = "ERR_304_EMBED_INVALID_RESPONSE"

	// State errors (400-499)
	ErrCodeAlreadyIndexing   = "ERR_401_ALREADY_INDEXING"
	ErrCodeAlreadyIndexed    = "ERR_402_ALREADY_INDEXED"
	ErrCodeNotIndexed        = "ERR_403_NOT_INDEXED"
	ErrCodeSubtreeCovered    = "ERR_404_SUBTREE_COVERED"
	ErrCodeCollectionLimit   = "ERR_405_COLLECTION_LIMIT_REACHED"
	ErrCodeTooManyChunks     = "ERR_406_TOO_MANY_CHUNKS"
	ErrCodeCollectionMissing = "ERR_407_COLLECTION_MISSING"

	// Store errors (500-599)
	ErrCodeStoreConnect = "ERR_501_STORE_CONNECT"
	ErrCodeStoreSchema  = "ERR_502_STORE_SCHEMA"
	ErrCodeStoreInsert  = "ERR_503_STORE_INSERT"
	ErrCodeStoreQuery   = "ERR_504_STORE_QUERY"
	ErrCodeStoreSearch  = "ERR_505_STORE_SEARCH"

	// Internal errors (600-699)
	ErrCodeInternal       = "ERR_601_INTERNAL"
	ErrCodeSplitFailed    = "ERR_602_SPLIT_FAILED"
	ErrCodeIndexCancelled = "ERR_603_INDEX_CANCELLED"
	ErrCodeLockHeld       = "ERR_604_LOCK_HELD"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryPath
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryState
	case '5':
		return CategoryStore
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeRegistryCorrupt:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedRateLimited, ErrCodeEmbedTransport, ErrCodeStoreConnect, ErrCodeStoreInsert:
		return true
	default:
		return false
	}
}
