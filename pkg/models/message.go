package models

// Role identifies who a feed entry is attributed to.
type Role string

const (
	// RoleSystem marks notices injected by the application itself. System
	// entries are pinned ahead of user entries and are never evicted.
	RoleSystem Role = "system"
	// RoleUser marks ordinary user-authored messages.
	RoleUser Role = "user"
)

// Message is one renderable feed entry. A message starts life either as a
// local optimistic entry created at send time (Pending=true, no DurableID)
// or as a confirmed entry built from a durable row.
type Message struct {
	// ID is a locally unique identifier assigned on creation.
	ID string `json:"id"`
	// DurableID is set once the backing store has assigned a canonical id.
	DurableID string `json:"durable_id,omitempty"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	// Sender is the display name shown next to the message.
	Sender string `json:"sender"`
	Level  int    `json:"level,omitempty"`
	// Account is the sender's account id; empty for system messages.
	Account string `json:"account,omitempty"`
	// TS is a best-effort creation timestamp (unix nanoseconds). Local
	// clock until superseded by the durable row's timestamp.
	TS int64 `json:"ts"`
	// Pending is true until the message is durably confirmed.
	Pending bool `json:"pending,omitempty"`
	// Failed is true when the durable write behind an optimistic entry
	// failed. Failed entries stay visible and are never retried.
	Failed bool `json:"failed,omitempty"`
}

// System reports whether the message is a system notice.
func (m Message) System() bool { return m.Role == RoleSystem }

// FromRow builds a confirmed message from a durable row. The local id
// doubles as the durable id since the entry was never optimistic.
func FromRow(r Row) Message {
	return Message{
		ID:        r.ID,
		DurableID: r.ID,
		Role:      RoleUser,
		Text:      r.Text,
		Sender:    r.Sender,
		Level:     r.Level,
		Account:   r.Account,
		TS:        r.TS,
	}
}
