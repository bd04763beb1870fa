package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatfeed/pkg/backend"
	"chatfeed/pkg/models"
)

// SetProfile upserts the identity record for an account.
func (s *Store) SetProfile(p models.Profile) error {
	if p.Account == "" {
		return fmt.Errorf("set profile: empty account")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.db.Set([]byte(profilePrefix+p.Account), b, pebble.Sync); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	return nil
}

// Profile resolves an account's identity record. A missing record is not
// an error: it returns an empty profile, which the avatar cache treats as
// inconclusive. Implements backend.ProfileSource.
func (s *Store) Profile(ctx context.Context, account string) (models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return models.Profile{}, err
	}
	val, closer, err := s.db.Get([]byte(profilePrefix + account))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Profile{Account: account}, nil
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile %s: %w", account, err)
	}
	defer closer.Close()
	p, derr := backend.DecodeProfile(account, val)
	if derr != nil {
		return models.Profile{}, derr
	}
	return p, nil
}
