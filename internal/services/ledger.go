package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"drink-check-bot/internal/models"
)

// HashLedger answers whether a photo's bytes were accepted before
type HashLedger struct {
	store HashStore
	now   Clock
}

// NewHashLedger creates a new hash ledger
func NewHashLedger(store HashStore, now Clock) *HashLedger {
	if now == nil {
		now = time.Now
	}
	return &HashLedger{store: store, now: now}
}

// Fingerprint returns the hex sha256 digest of data
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Exists reports whether hash was recorded
func (l *HashLedger) Exists(ctx context.Context, hash string) (bool, error) {
	return l.store.Exists(ctx, hash)
}

// Record appends hash with the ref of the stored blob
func (l *HashLedger) Record(ctx context.Context, hash, ref string) error {
	if len(hash) != sha256.Size*2 {
		return fmt.Errorf("invalid fingerprint %q", hash)
	}
	return l.store.Record(ctx, &models.PhotoFingerprint{
		ContentHash: hash,
		StorageRef:  ref,
		CreatedAt:   l.now(),
	})
}
