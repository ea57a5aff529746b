package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Solution errors
// 13100-13199: Judge errors
// 13200-13299: File errors
// 13300-13399: Worker & RPC errors
// 16000-16999: Auth errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// General errors (10001-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Solution Errors (13000-13099) ==========

	SolutionNotFound     ErrorCode = 13000
	SolutionUpdateFailed ErrorCode = 13001
	InvalidSubmission    ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003

	// ========== Judge Errors (13100-13199) ==========

	JudgeQueueEmpty     ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	InvalidDataConfig   ErrorCode = 13103
	CyclicDependency    ErrorCode = 13104
	SandboxError        ErrorCode = 13105
	CheckerCompileError ErrorCode = 13106
	ChannelNotSupported ErrorCode = 13107
	RequeueExhausted    ErrorCode = 13108

	// ========== File Errors (13200-13299) ==========

	FileNotFound      ErrorCode = 13200
	FileFetchFailed   ErrorCode = 13201
	FileHashMismatch  ErrorCode = 13202
	FileDecodeFailed  ErrorCode = 13203
	FileCacheTimeout  ErrorCode = 13204
	FileStoreNotReady ErrorCode = 13205

	// ========== Worker & RPC Errors (13300-13399) ==========

	WorkerSpawnFailed ErrorCode = 13300
	RPCRequestFailed  ErrorCode = 13301
	RPCConnectionLost ErrorCode = 13302
	RPCMalformed      ErrorCode = 13303

	// ========== Auth Errors (16000-16999) ==========

	TokenExpired ErrorCode = 16000
	TokenInvalid ErrorCode = 16001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Solution
	SolutionNotFound:     "Solution not found",
	SolutionUpdateFailed: "Failed to update solution",
	InvalidSubmission:    "Invalid submission",
	LanguageNotSupported: "Programming language not supported",

	// Judge
	JudgeQueueEmpty:     "Judge queue is empty",
	JudgeSystemError:    "Judge system error",
	CompilationError:    "Compilation error",
	InvalidDataConfig:   "Invalid data config",
	CyclicDependency:    "Cyclic dependence detected",
	SandboxError:        "Sandbox execution failed",
	CheckerCompileError: "Judger Compile Error",
	ChannelNotSupported: "Judge channel not supported",
	RequeueExhausted:    "Job requeue limit exceeded",

	// File
	FileNotFound:      "File not found",
	FileFetchFailed:   "Failed to fetch file",
	FileHashMismatch:  "File hash mismatch",
	FileDecodeFailed:  "Failed to decode file",
	FileCacheTimeout:  "Wait for file cache timeout",
	FileStoreNotReady: "File store is not initialized",

	// Worker & RPC
	WorkerSpawnFailed: "Failed to spawn worker",
	RPCRequestFailed:  "RPC request failed",
	RPCConnectionLost: "RPC connection lost",
	RPCMalformed:      "Malformed RPC message",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == RecordNotFound, c == SolutionNotFound, c == FileNotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout, c == FileCacheTimeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == InvalidSubmission, c == InvalidDataConfig:
		return 400
	default:
		return 500
	}
}
