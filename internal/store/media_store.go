package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vbonduro/homewiz/internal/domain"
)

const mediaColumns = `asset_id, entity_kind, entity_id, category, storage_path, public_url,
	mime_type, file_size, sort_order, uploaded_at`

type MediaStore struct {
	db *sqlx.DB
}

func NewMediaStore(db *sqlx.DB) *MediaStore {
	return &MediaStore{db: db}
}

func (s *MediaStore) Create(ctx context.Context, a *domain.MediaAsset) error {
	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO media_assets (`+mediaColumns+`)
		VALUES (:asset_id, :entity_kind, :entity_id, :category, :storage_path, :public_url,
			:mime_type, :file_size, :sort_order, :uploaded_at)
	`, a)
	if err != nil {
		return classify("create media asset", err)
	}
	return nil
}

// GetByID returns nil, nil when no asset has the id.
func (s *MediaStore) GetByID(ctx context.Context, assetID string) (*domain.MediaAsset, error) {
	a := &domain.MediaAsset{}
	err := s.db.GetContext(ctx, a, s.db.Rebind(`SELECT `+mediaColumns+` FROM media_assets WHERE asset_id = ?`), assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media asset: %w", classify("get media asset", err))
	}
	return a, nil
}

// ListByEntity returns an entity's assets in display order.
func (s *MediaStore) ListByEntity(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.MediaAsset, error) {
	assets := []*domain.MediaAsset{}
	err := s.db.SelectContext(ctx, &assets, s.db.Rebind(`
		SELECT `+mediaColumns+` FROM media_assets
		WHERE entity_kind = ? AND entity_id = ?
		ORDER BY sort_order ASC, uploaded_at ASC, asset_id ASC
	`), kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media assets: %w", classify("list media assets", err))
	}
	return assets, nil
}

// NextSortOrder returns one past the highest sort order used by the entity, or 0.
func (s *MediaStore) NextSortOrder(ctx context.Context, kind domain.EntityKind, entityID string) (int, error) {
	var next int
	err := s.db.GetContext(ctx, &next, s.db.Rebind(`
		SELECT COALESCE(MAX(sort_order) + 1, 0) FROM media_assets WHERE entity_kind = ? AND entity_id = ?
	`), kind, entityID)
	if err != nil {
		return 0, classify("next sort order", err)
	}
	return next, nil
}

func (s *MediaStore) UpdateSortOrder(ctx context.Context, assetID string, sortOrder int) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE media_assets SET sort_order = ? WHERE asset_id = ?`), sortOrder, assetID)
	if err != nil {
		return classify("reorder media asset", err)
	}
	return expectMediaRow("reorder media asset", result, assetID)
}

func (s *MediaStore) Delete(ctx context.Context, assetID string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM media_assets WHERE asset_id = ?`), assetID)
	if err != nil {
		return classify("delete media asset", err)
	}
	return expectMediaRow("delete media asset", result, assetID)
}

// DeleteByEntity removes every asset row of an entity and returns how many were removed.
func (s *MediaStore) DeleteByEntity(ctx context.Context, kind domain.EntityKind, entityID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM media_assets WHERE entity_kind = ? AND entity_id = ?`), kind, entityID)
	if err != nil {
		return 0, classify("delete media assets", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func expectMediaRow(op string, result sql.Result, assetID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError(op, domain.ReasonBackend, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		return domain.NewStoreError(op, domain.ReasonNotFound, fmt.Errorf("media asset %s", assetID))
	}
	return nil
}
