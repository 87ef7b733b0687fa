// models/models.go
package models

import (
	"time"
)

// SessionRecord 一次连接的审计记录，连接关闭时写入
type SessionRecord struct {
	ID                string    `json:"id"`
	ConnID            string    `json:"conn_id"`
	Role              string    `json:"role"`
	ConnectedAt       time.Time `json:"connected_at"`
	DisconnectedAt    time.Time `json:"disconnected_at"`
	MessagesReceived  int64     `json:"messages_received"`
	MalformedMessages int64     `json:"malformed_messages"`
	ActionsApplied    int64     `json:"actions_applied"`
}

// Duration is how long the connection stayed open.
func (r *SessionRecord) Duration() time.Duration {
	if r.DisconnectedAt.IsZero() {
		return 0
	}
	return r.DisconnectedAt.Sub(r.ConnectedAt)
}
