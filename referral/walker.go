// Package referral resolves a subscriber's upline through the referral tree.
package referral

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/logger"
)

// MaxLevels is the hard cap on upline depth. Commission tables have one
// slot per level.
const MaxLevels = 10

// Lookup returns who referred userID. ok is false when the user is unknown
// or was not referred by anyone. *store.Store and *store.Tx satisfy it.
type Lookup interface {
	ReferrerOf(ctx context.Context, userID string) (referrer string, ok bool, err error)
}

// Walker walks referral edges upward from a subscriber
type Walker struct {
	lookup Lookup
	logger *zap.SugaredLogger
}

// NewWalker creates a walker over lookup
func NewWalker(lookup Lookup, logger *zap.SugaredLogger) *Walker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Walker{lookup: lookup, logger: logger.Named("referral")}
}

// ResolveUpline returns the subscriber's ancestors in order: index 0 is the
// direct referrer (level 1). The walk stops at the root, after maxLevels hops
// (clamped to 1..MaxLevels), or before revisiting a user already on the path.
func (w *Walker) ResolveUpline(ctx context.Context, subscriberID string, maxLevels int) ([]string, error) {
	if maxLevels <= 0 || maxLevels > MaxLevels {
		maxLevels = MaxLevels
	}

	visited := map[string]bool{subscriberID: true}
	upline := make([]string, 0, maxLevels)
	current := subscriberID

	for len(upline) < maxLevels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		referrer, ok, err := w.lookup.ReferrerOf(ctx, current)
		if err != nil {
			err = errors.Wrapf(err, "resolve level %d referrer", len(upline)+1)
			return nil, errors.WithDetail(err, fmt.Sprintf("User ID: %s", current))
		}
		if !ok {
			break
		}
		if visited[referrer] {
			w.logger.Warnw("Referral cycle detected, truncating upline",
				"subscriber", subscriberID,
				logger.FieldUserID, current,
				"referrer", referrer,
				logger.FieldLevel, len(upline)+1)
			break
		}

		visited[referrer] = true
		upline = append(upline, referrer)
		current = referrer
	}

	return upline, nil
}
