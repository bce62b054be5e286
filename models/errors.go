package models

/*
	Wire-level error taxonomy. Validation kinds are produced before any
	remote call is made; the remote kinds map a failed or unreachable
	provider onto the client-visible body.
*/

const (
	ErrorTypeMissingCredentials    = "MISSING_CREDENTIALS"
	ErrorTypeInvalidSession        = "INVALID_SESSION"
	ErrorTypeMissingParameter      = "MISSING_PARAMETER"
	ErrorTypeRemoteOperationFailed = "REMOTE_OPERATION_FAILED"
	ErrorTypeTransportFailure      = "TRANSPORT_FAILURE"
	ErrorTypeRemoteTimeout         = "REMOTE_TIMEOUT"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
}
