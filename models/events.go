package models

import "time"

/*
	Audit events emitted by the gateway. Subscribers connect over a
	websocket and receive every event published to their topic. Event
	data never contains credentials, only opaque identifiers.
*/

const (
	TopicSessions = "sessions"
	TopicAssets   = "assets"
	TopicFolders  = "folders"
)

type Event struct {
	Topic     string    `json:"topic"`
	Action    string    `json:"action"`
	Data      any       `json:"data,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}
