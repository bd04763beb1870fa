// Package backend defines the external collaborator shapes the feed core
// depends on. The core is transport-format-agnostic: any backing store and
// push mechanism satisfying these request/response and delivery shapes is
// sufficient.
package backend

import (
	"context"

	"chatfeed/pkg/models"
)

// WriteRequest is the input to a durable write.
type WriteRequest struct {
	Account string `json:"account"`
	Sender  string `json:"sender"`
	Level   int    `json:"level,omitempty"`
	Text    string `json:"text"`
}

// Writer persists one message and returns its durable row, or fails.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) (models.Row, error)
}

// Subscriber delivers durable rows for newly inserted records. Delivery is
// at-least-once, may duplicate, and carries no ordering relative to the
// write call's own response or to other subscribers' writes. The returned
// cancel func tears the subscription down; the channel is closed after.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan models.Row, func(), error)
}

// ProfileSource resolves an account id to its identity record. A profile
// with an empty avatar URL is a valid, inconclusive answer.
type ProfileSource interface {
	Profile(ctx context.Context, account string) (models.Profile, error)
}
