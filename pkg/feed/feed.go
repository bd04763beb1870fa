// Package feed binds the timeline store, reconciliation engine, cooldown
// guard and avatar cache into one session-scoped component. All caches and
// the realtime subscription are tied to the Feed's lifetime and dropped on
// Close; a late async result reaching a closed feed is discarded.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chatfeed/pkg/avatars"
	"chatfeed/pkg/backend"
	"chatfeed/pkg/cooldown"
	"chatfeed/pkg/logger"
	"chatfeed/pkg/models"
	"chatfeed/pkg/reconcile"
	"chatfeed/pkg/telemetry"
	"chatfeed/pkg/timeline"
)

// ErrCooldown is returned by Send while the cooldown interval has not
// elapsed. No store entry is created and no durable write is attempted.
var ErrCooldown = errors.New("send cooldown active")

// ErrClosed is returned by Send after the feed has been torn down.
var ErrClosed = errors.New("feed closed")

// Identity names the local session's sender.
type Identity struct {
	Account string
	Sender  string
	Level   int
}

// Options configures a Feed.
type Options struct {
	Identity Identity
	Writer   backend.Writer
	Profiles backend.ProfileSource
	// Capacity is the non-system timeline cap; zero means the default.
	Capacity int
	// Cooldown is the interval between accepted sends; zero means the default.
	Cooldown time.Duration
	// AvatarRetryAfter and AvatarMaxConcurrent tune the avatar cache; zero
	// means the defaults.
	AvatarRetryAfter    time.Duration
	AvatarMaxConcurrent int
	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// Feed is the presentation-facing surface: the ordered message sequence,
// the remaining cooldown and a resolved avatar per account.
type Feed struct {
	id      Identity
	store   *timeline.Store
	engine  *reconcile.Engine
	guard   *cooldown.Guard
	avatars *avatars.Cache
	writer  backend.Writer

	now    func() time.Time
	closed atomic.Bool

	cancelSub func()
	wg        sync.WaitGroup
}

// New creates a Feed. Call Start to attach the realtime subscription and
// Close to tear everything down.
func New(opts Options) (*Feed, error) {
	if opts.Writer == nil {
		return nil, fmt.Errorf("feed: nil writer")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("feed: nil profile source")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	store := timeline.New(opts.Capacity)
	avopts := []avatars.Option{avatars.WithClock(now)}
	if opts.AvatarRetryAfter > 0 {
		avopts = append(avopts, avatars.WithRetryAfter(opts.AvatarRetryAfter))
	}
	if opts.AvatarMaxConcurrent > 0 {
		avopts = append(avopts, avatars.WithMaxConcurrent(opts.AvatarMaxConcurrent))
	}
	f := &Feed{
		id:      opts.Identity,
		store:   store,
		engine:  reconcile.New(store),
		guard:   cooldown.New(opts.Cooldown),
		avatars: avatars.New(opts.Profiles, avopts...),
		writer:  opts.Writer,
		now:     now,
	}
	// every store change resolves avatars for the identities now visible
	store.SetOnChange(f.resolveVisible)
	return f, nil
}

// Start subscribes to the realtime push channel and feeds every observed
// durable row into the reconciliation engine until the subscription is
// cancelled or the channel closes.
func (f *Feed) Start(ctx context.Context, sub backend.Subscriber) error {
	rows, cancel, err := sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.cancelSub = cancel
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for row := range rows {
			if f.closed.Load() {
				return
			}
			telemetry.RealtimeRows.Inc()
			f.engine.Apply(row)
		}
		logger.Debug("realtime_stream_ended")
	}()
	return nil
}

// Send validates the cooldown, appends a local optimistic entry and issues
// the durable write in the background. The returned message is the
// optimistic entry (Pending=true).
func (f *Feed) Send(ctx context.Context, text string) (models.Message, error) {
	if f.closed.Load() {
		return models.Message{}, ErrClosed
	}
	if text == "" {
		return models.Message{}, fmt.Errorf("feed: empty text")
	}
	now := f.now()
	if !f.guard.CanSend(now) {
		telemetry.Sends.WithLabelValues("cooldown").Inc()
		return models.Message{}, fmt.Errorf("%w: %s left", ErrCooldown, f.guard.Remaining(now))
	}
	f.guard.RecordSend(now)

	m := models.Message{
		ID:      uuid.NewString(),
		Role:    models.RoleUser,
		Text:    text,
		Sender:  f.id.Sender,
		Level:   f.id.Level,
		Account: f.id.Account,
		TS:      now.UnixNano(),
		Pending: true,
	}
	f.store.Append(m)
	telemetry.Sends.WithLabelValues("accepted").Inc()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		row, err := f.writer.Write(ctx, backend.WriteRequest{
			Account: f.id.Account,
			Sender:  f.id.Sender,
			Level:   f.id.Level,
			Text:    text,
		})
		if f.closed.Load() {
			return
		}
		if err != nil {
			telemetry.Sends.WithLabelValues("failed").Inc()
			logger.Warn("send_write_failed", "local_id", m.ID, "error", err)
			f.engine.MarkFailed(m.ID)
			return
		}
		f.engine.Apply(row)
	}()
	return m, nil
}

// Notice appends a system message. System entries are exempt from the
// capacity cap and sit ahead of user entries.
func (f *Feed) Notice(text string) {
	f.store.Append(models.Message{
		ID:   uuid.NewString(),
		Role: models.RoleSystem,
		Text: text,
		TS:   f.now().UnixNano(),
	})
}

// Apply merges one externally observed durable row. Exposed for callers
// that bridge their own delivery paths into the feed.
func (f *Feed) Apply(row models.Row) {
	if f.closed.Load() {
		return
	}
	f.engine.Apply(row)
}

// Messages returns the current ordered, capacity-bounded sequence.
func (f *Feed) Messages() []models.Message { return f.store.All() }

// Remaining returns the cooldown left before the next send is accepted.
func (f *Feed) Remaining() time.Duration { return f.guard.Remaining(f.now()) }

// Avatar returns the resolved avatar URL for account, triggering a lazy
// background fetch when nothing is cached yet.
func (f *Feed) Avatar(account string) (string, bool) { return f.avatars.Resolve(account) }

// AvatarFailed reports a render-time image load failure for account,
// purging the stale URL and scheduling a retry.
func (f *Feed) AvatarFailed(account string) { f.avatars.Invalidate(account) }

// Avatars exposes the cache for maintenance (sweeps).
func (f *Feed) Avatars() *avatars.Cache { return f.avatars }

// Close cancels the realtime subscription, marks the feed torn down and
// waits for in-flight background work to observe it.
func (f *Feed) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	if f.cancelSub != nil {
		f.cancelSub()
	}
	f.avatars.Close()
	f.wg.Wait()
	logger.Info("feed_closed", "account", f.id.Account)
}

// resolveVisible asks the avatar cache to resolve every account currently
// in the timeline that has no cached URL.
func (f *Feed) resolveVisible() {
	if f.closed.Load() {
		return
	}
	msgs := f.store.All()
	accounts := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.Account == "" {
			continue
		}
		if _, dup := seen[m.Account]; dup {
			continue
		}
		seen[m.Account] = struct{}{}
		accounts = append(accounts, m.Account)
	}
	f.avatars.ResolveAll(accounts)
}
