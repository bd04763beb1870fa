package models

// Row is the canonical, store-assigned representation of a message once
// persisted. Rows arrive on two independent paths: the direct response to
// the sender's own write, and the realtime echo of every newly durable
// message. Neither path orders against the other and either may duplicate.
type Row struct {
	// ID is the store-assigned durable identifier.
	ID      string `json:"id"`
	Account string `json:"account"`
	Sender  string `json:"sender"`
	Level   int    `json:"level,omitempty"`
	Text    string `json:"text"`
	// TS is the store-assigned timestamp (unix nanoseconds).
	TS int64 `json:"ts"`
}
