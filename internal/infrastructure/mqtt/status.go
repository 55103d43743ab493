package mqtt

import (
	"encoding/json"
	"time"
)

// Process status values published on lumen/system/status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	reasonGraceful   = "graceful_shutdown"
	reasonUnexpected = "unexpected_disconnect"
)

// StatusMessage is the retained process status.
// Topic: lumen/system/status
// QoS: configured, Retained: Yes
type StatusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// statusPayload encodes a status message stamped with now.
func statusPayload(status, clientID, reason string, now time.Time) []byte {
	data, err := json.Marshal(StatusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: now.UTC().Truncate(time.Second),
	})
	if err != nil {
		// Only strings and a time; cannot fail.
		panic(err)
	}
	return data
}
