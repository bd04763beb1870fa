// Package pebblestore is an embedded backing store satisfying the feed's
// Writer, Subscriber and ProfileSource shapes on a local Pebble database.
// It persists durable rows under sortable timestamp keys and fans each new
// row out to in-process realtime subscribers.
package pebblestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encoding/json"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"chatfeed/pkg/backend"
	"chatfeed/pkg/logger"
	"chatfeed/pkg/models"
	"chatfeed/pkg/telemetry"
)

const (
	rowPrefix     = "feed:msg:"
	profilePrefix = "feed:profile:"
)

// Store owns the pebble handle and the subscriber set.
type Store struct {
	db *pebble.DB

	// seq reduces key collisions when rows share a nanosecond timestamp.
	seq uint64

	mu      sync.Mutex
	subs    map[int]chan models.Row
	nextSub int
	closed  bool

	// replay is how many recent rows a new subscriber is backfilled with.
	replay int
	// subBuf is the per-subscriber channel buffer; rows beyond it drop.
	subBuf int
}

// Option configures a Store.
type Option func(*Store)

// WithReplay sets how many recent rows new subscribers receive before live
// delivery. Zero disables backfill.
func WithReplay(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.replay = n
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel buffer.
func WithSubscriberBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.subBuf = n
		}
	}
}

// Open opens (or creates) the pebble database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	logger.Info("pebble_opened", "path", path)
	s := &Store{db: db, subs: make(map[int]chan models.Row), replay: 50, subBuf: 256}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close cancels all subscriptions and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	logger.Info("pebble_closed")
	return nil
}

// Write persists the message, assigns its durable row and fans it out to
// subscribers. Implements backend.Writer.
func (s *Store) Write(ctx context.Context, req backend.WriteRequest) (models.Row, error) {
	if err := ctx.Err(); err != nil {
		return models.Row{}, err
	}
	if req.Text == "" {
		return models.Row{}, fmt.Errorf("write: empty text")
	}
	row := models.Row{
		ID:      "r-" + uuid.NewString(),
		Account: req.Account,
		Sender:  req.Sender,
		Level:   req.Level,
		Text:    req.Text,
		TS:      time.Now().UTC().UnixNano(),
	}
	// Key format: feed:msg:<unix_nano_padded>-<seq> keeps rows iterable in
	// insertion order.
	n := atomic.AddUint64(&s.seq, 1)
	key := fmt.Sprintf("%s%020d-%06d", rowPrefix, row.TS, n)
	b, err := json.Marshal(row)
	if err != nil {
		return models.Row{}, fmt.Errorf("marshal row: %w", err)
	}
	if err := s.db.Set([]byte(key), b, pebble.Sync); err != nil {
		return models.Row{}, fmt.Errorf("persist row: %w", err)
	}
	s.fanout(row)
	logger.Debug("row_persisted", "durable_id", row.ID, "account", row.Account)
	return row, nil
}

// Subscribe registers a realtime subscriber. Recent rows (up to the replay
// budget) are queued first so late subscribers backfill through the same
// merge path, then live rows follow. Implements backend.Subscriber.
func (s *Store) Subscribe(ctx context.Context) (<-chan models.Row, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("subscribe: store closed")
	}
	ch := make(chan models.Row, s.subBuf+s.replay)
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	if s.replay > 0 {
		rows, err := s.Recent(s.replay)
		if err != nil {
			logger.Warn("subscribe_replay_failed", "error", err)
		}
		s.mu.Lock()
		if _, live := s.subs[id]; live {
			for _, r := range rows {
				select {
				case ch <- r:
				default:
				}
			}
		}
		s.mu.Unlock()
	}

	cancel := func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}
	// tear down with the caller's context as well
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}

// Recent returns up to n most recent rows in insertion order.
func (s *Store) Recent(n int) ([]models.Row, error) {
	if n <= 0 {
		return nil, nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(rowPrefix),
		UpperBound: []byte(rowPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("recent: iterator: %w", err)
	}
	defer iter.Close()

	var out []models.Row
	for ok := iter.Last(); ok && len(out) < n; ok = iter.Prev() {
		row, derr := backend.DecodeRow(iter.Value())
		if derr != nil {
			logger.Warn("recent_row_undecodable", "key", string(iter.Key()), "error", derr)
			continue
		}
		out = append(out, row)
	}
	// reverse into insertion order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// TrimOlderThan deletes persisted rows whose timestamp is before cutoff
// (unix nanoseconds) and returns the number removed.
func (s *Store) TrimOlderThan(cutoff int64) (int, error) {
	upper := fmt.Sprintf("%s%020d", rowPrefix, cutoff)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(rowPrefix),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return 0, fmt.Errorf("trim: iterator: %w", err)
	}
	var keys [][]byte
	for ok := iter.First(); ok; ok = iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		keys = append(keys, k)
	}
	if cerr := iter.Close(); cerr != nil {
		return 0, fmt.Errorf("trim: close iterator: %w", cerr)
	}
	for _, k := range keys {
		if derr := s.db.Delete(k, pebble.NoSync); derr != nil {
			return 0, fmt.Errorf("trim: delete %s: %w", k, derr)
		}
	}
	if len(keys) > 0 {
		logger.Info("history_trimmed", "rows", len(keys))
	}
	return len(keys), nil
}

// fanout delivers row to each live subscriber without blocking. Slow
// subscribers drop rows; the idempotent merge downstream tolerates gaps.
func (s *Store) fanout(row models.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- row:
		default:
			telemetry.SubscriberDropped.Inc()
		}
	}
}
