package models

/*
	Payloads for the session broker surface. A credential triple is
	submitted exactly once; from then on the caller only ever holds the
	opaque session id. The triple itself is never part of any response.
*/

type CreateSessionRequest struct {
	CloudName string `json:"cloudName"`
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type RevokeSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
