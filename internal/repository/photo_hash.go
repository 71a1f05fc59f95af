package repository

import (
	"context"
	"fmt"

	"drink-check-bot/internal/models"
)

// PhotoHashRepository stores fingerprints of accepted photos
type PhotoHashRepository struct {
	db DB
}

// NewPhotoHashRepository creates a new photo hash repository
func NewPhotoHashRepository(db DB) *PhotoHashRepository {
	return &PhotoHashRepository{db: db}
}

// Exists checks if a digest was already recorded
func (r *PhotoHashRepository) Exists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM photo_hashes WHERE sha256 = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check photo hash: %w", err)
	}
	return exists, nil
}

// Record inserts a fingerprint. Recording an existing digest is a no-op.
func (r *PhotoHashRepository) Record(ctx context.Context, fp *models.PhotoFingerprint) error {
	query := `
		INSERT INTO photo_hashes (sha256, storage_ref, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (sha256) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, fp.ContentHash, fp.StorageRef, fp.CreatedAt); err != nil {
		return fmt.Errorf("failed to record photo hash: %w", err)
	}
	return nil
}
