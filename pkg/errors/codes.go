package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases used by call sites that predate the module-scoped codes.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
)

// Scoring input / pipeline error codes
const (
	ErrCodeMissingArgument  ErrorCode = "SCORE_001"
	ErrCodeInputNotFound    ErrorCode = "SCORE_002"
	ErrCodeNoPoses          ErrorCode = "SCORE_003"
	ErrCodeLayoutInvalid    ErrorCode = "SCORE_004"
	ErrCodeSchemaMismatch   ErrorCode = "SCORE_005"
	ErrCodeExtractionFailed ErrorCode = "SCORE_006"
	ErrCodeJoinMismatch     ErrorCode = "SCORE_007"
	ErrCodeFilterInvalid    ErrorCode = "SCORE_008"
	ErrCodeEmptyRun         ErrorCode = "SCORE_009"
	ErrCodeScratchCleanup   ErrorCode = "SCORE_010"
)

// Model error codes
const (
	ErrCodeModelNotAvailable ErrorCode = "MODEL_001"
	ErrCodeModelLoadFailed   ErrorCode = "MODEL_002"
	ErrCodeInferenceFailed   ErrorCode = "MODEL_003"
	ErrCodeProfileInvalid    ErrorCode = "MODEL_004"
	ErrCodeFamilyUnsupported ErrorCode = "MODEL_005"
)

// Docking error codes
const (
	ErrCodeReferenceLigand   ErrorCode = "DOCK_001"
	ErrCodeSMILESInvalid     ErrorCode = "DOCK_002"
	ErrCodePreparationFailed ErrorCode = "DOCK_003"
	ErrCodeDockingFailed     ErrorCode = "DOCK_004"
)

// Result sink error codes
const (
	ErrCodeSinkWriteFailed   ErrorCode = "SINK_001"
	ErrCodeStorageError      ErrorCode = "SINK_002"
	ErrCodeMessageQueueError ErrorCode = "SINK_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeMissingArgument:  http.StatusBadRequest,
	ErrCodeInputNotFound:    http.StatusBadRequest,
	ErrCodeNoPoses:          http.StatusUnprocessableEntity,
	ErrCodeLayoutInvalid:    http.StatusBadRequest,
	ErrCodeSchemaMismatch:   http.StatusUnprocessableEntity,
	ErrCodeExtractionFailed: http.StatusUnprocessableEntity,
	ErrCodeJoinMismatch:     http.StatusInternalServerError,
	ErrCodeFilterInvalid:    http.StatusBadRequest,
	ErrCodeEmptyRun:         http.StatusUnprocessableEntity,
	ErrCodeScratchCleanup:   http.StatusInternalServerError,

	ErrCodeModelNotAvailable: http.StatusServiceUnavailable,
	ErrCodeModelLoadFailed:   http.StatusInternalServerError,
	ErrCodeInferenceFailed:   http.StatusInternalServerError,
	ErrCodeProfileInvalid:    http.StatusInternalServerError,
	ErrCodeFamilyUnsupported: http.StatusBadRequest,

	ErrCodeReferenceLigand:   http.StatusBadRequest,
	ErrCodeSMILESInvalid:     http.StatusBadRequest,
	ErrCodePreparationFailed: http.StatusUnprocessableEntity,
	ErrCodeDockingFailed:     http.StatusUnprocessableEntity,

	ErrCodeSinkWriteFailed:   http.StatusInternalServerError,
	ErrCodeStorageError:      http.StatusInternalServerError,
	ErrCodeMessageQueueError: http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeMissingArgument:  "essential argument not supplied",
	ErrCodeInputNotFound:    "input path not found",
	ErrCodeNoPoses:          "ligand record contains no usable pose",
	ErrCodeLayoutInvalid:    "input layout is invalid",
	ErrCodeSchemaMismatch:   "feature schema mismatch",
	ErrCodeExtractionFailed: "feature extraction failed",
	ErrCodeJoinMismatch:     "prediction tables are out of sync",
	ErrCodeFilterInvalid:    "invalid result filter",
	ErrCodeEmptyRun:         "nothing to score",
	ErrCodeScratchCleanup:   "scratch cleanup failed",

	ErrCodeModelNotAvailable: "model not available",
	ErrCodeModelLoadFailed:   "failed to load model",
	ErrCodeInferenceFailed:   "model inference failed",
	ErrCodeProfileInvalid:    "invalid scaling profile",
	ErrCodeFamilyUnsupported: "unsupported model family",

	ErrCodeReferenceLigand:   "no reference ligand supplied",
	ErrCodeSMILESInvalid:     "invalid SMILES list",
	ErrCodePreparationFailed: "ligand preparation failed",
	ErrCodeDockingFailed:     "docking failed",

	ErrCodeSinkWriteFailed:   "failed to write results",
	ErrCodeStorageError:      "object storage error",
	ErrCodeMessageQueueError: "message queue error",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}

// IsInputError reports whether code belongs to the input class of failures:
// bad paths, empty pose extraction, schema mismatches. These abort a run
// before or during feature extraction and are never retried.
func IsInputError(code ErrorCode) bool {
	switch code {
	case ErrCodeMissingArgument, ErrCodeInputNotFound, ErrCodeNoPoses,
		ErrCodeLayoutInvalid, ErrCodeSchemaMismatch, ErrCodeReferenceLigand,
		ErrCodeSMILESInvalid, ErrCodeFilterInvalid, ErrCodeEmptyRun:
		return true
	}
	return false
}
