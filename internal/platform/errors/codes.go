// Package errors provides structured, coded error handling for the gateway.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidationUserIDEmpty   Code = "VALIDATION_USER_ID_EMPTY"
	CodeValidationClientIDEmpty Code = "VALIDATION_CLIENT_ID_EMPTY"
	CodeValidationBadRequest    Code = "VALIDATION_BAD_REQUEST"

	// Identity directory errors
	CodeDirectoryListFailed   Code = "DIRECTORY_LIST_FAILED"
	CodeDirectoryCreateFailed Code = "DIRECTORY_CREATE_FAILED"
	CodeDirectorySecretFailed Code = "DIRECTORY_SECRET_FAILED"

	// SQL execution errors
	CodeSQLExecutionFailed Code = "SQL_EXECUTION_FAILED"

	// Grant errors
	CodeGrantACLFailed Code = "GRANT_ACL_FAILED"
	CodeGrantSQLFailed Code = "GRANT_SQL_FAILED"

	// Transport errors (chat-turn path and endpoint resolution)
	CodeTransportUnreachable  Code = "TRANSPORT_UNREACHABLE"
	CodeTransportBadResponse  Code = "TRANSPORT_BAD_RESPONSE"
	CodeEndpointResolveFailed Code = "ENDPOINT_RESOLVE_FAILED"

	// Front-end auth errors
	CodeUserGrantInvalid  Code = "USER_GRANT_INVALID"
	CodeUserGrantExpired  Code = "USER_GRANT_EXPIRED"
	CodeUserGrantMismatch Code = "USER_GRANT_MISMATCH"
)

// HTTPStatus maps an error code to the front-end HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidationUserIDEmpty, CodeValidationClientIDEmpty, CodeValidationBadRequest:
		return http.StatusBadRequest
	case CodeUserGrantInvalid, CodeUserGrantExpired, CodeUserGrantMismatch:
		return http.StatusUnauthorized
	case CodeTransportUnreachable:
		return http.StatusBadGateway
	case CodeDirectoryListFailed, CodeDirectoryCreateFailed, CodeDirectorySecretFailed,
		CodeSQLExecutionFailed, CodeGrantACLFailed, CodeGrantSQLFailed,
		CodeTransportBadResponse, CodeEndpointResolveFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
