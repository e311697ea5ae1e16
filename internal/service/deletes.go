package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/blobstore"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/media"
)

// DeleteMedia unlinks an asset from its entity, then removes its row and blob.
func (s *PropertyService) DeleteMedia(ctx context.Context, sess auth.Session, assetID string) error {
	if err := requireWrite(sess); err != nil {
		return err
	}
	asset, err := s.media.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("%w: media asset %s", ErrNotFound, assetID)
	}

	unlock := s.lockEntity(asset.EntityKind, asset.EntityID)
	defer unlock()

	refs, err := s.entities.MediaReferences(ctx, asset.EntityKind, asset.EntityID)
	if err != nil && !domain.IsNotFound(err) {
		return err
	}
	if err == nil {
		kept := make([]string, 0, len(refs))
		for _, ref := range refs {
			if ref != asset.PublicURL {
				kept = append(kept, ref)
			}
		}
		if err := s.entities.Update(ctx, asset.EntityKind, asset.EntityID, domain.Fields{asset.EntityKind.MediaField(): kept}); err != nil {
			return fmt.Errorf("failed to unlink media asset: %w", err)
		}
	}

	if err := s.media.Delete(ctx, assetID); err != nil {
		return fmt.Errorf("failed to delete media asset record: %w", err)
	}
	s.removeBlob(ctx, asset.StoragePath)
	s.invalidate(ctx)
	s.logger.Info("media asset deleted", "asset_id", assetID, "kind", asset.EntityKind, "id", asset.EntityID)
	return nil
}

// ReorderMedia moves an asset and rewrites the entity's reference list in the
// new display order. References without an asset row keep their place in front.
func (s *PropertyService) ReorderMedia(ctx context.Context, sess auth.Session, assetID string, sortOrder int) (*domain.MediaAsset, error) {
	if err := requireWrite(sess); err != nil {
		return nil, err
	}
	if sortOrder < 0 {
		return nil, fmt.Errorf("%w: sort_order must not be negative", ErrInvalid)
	}
	asset, err := s.media.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: media asset %s", ErrNotFound, assetID)
	}

	unlock := s.lockEntity(asset.EntityKind, asset.EntityID)
	defer unlock()

	if err := s.media.UpdateSortOrder(ctx, assetID, sortOrder); err != nil {
		return nil, fmt.Errorf("failed to reorder media asset: %w", err)
	}

	assets, err := s.media.ListByEntity(ctx, asset.EntityKind, asset.EntityID)
	if err != nil {
		return nil, err
	}
	refs, err := s.entities.MediaReferences(ctx, asset.EntityKind, asset.EntityID)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]bool, len(assets))
	ordered := make([]string, 0, len(assets))
	for _, a := range assets {
		owned[a.PublicURL] = true
	}
	linked := make(map[string]bool, len(refs))
	for _, ref := range refs {
		linked[ref] = true
	}
	legacy := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !owned[ref] {
			legacy = append(legacy, ref)
		}
	}
	for _, a := range assets {
		if linked[a.PublicURL] {
			ordered = append(ordered, a.PublicURL)
		}
	}

	next := media.Merge(legacy, ordered)
	if err := s.entities.Update(ctx, asset.EntityKind, asset.EntityID, domain.Fields{asset.EntityKind.MediaField(): next}); err != nil {
		return nil, fmt.Errorf("failed to update reference order: %w", err)
	}
	s.invalidate(ctx)

	asset.SortOrder = sortOrder
	return asset, nil
}

// DeleteBuilding removes a building, its rooms, and every stored photo of both.
func (s *PropertyService) DeleteBuilding(ctx context.Context, sess auth.Session, id string) error {
	if err := requireWrite(sess); err != nil {
		return err
	}
	canonical, err := s.resolveExisting(ctx, domain.KindBuilding, id)
	if err != nil {
		return err
	}
	roomIDs, err := s.rooms.IDsForBuilding(ctx, canonical)
	if err != nil {
		return err
	}

	if err := s.entities.Delete(ctx, domain.KindBuilding, canonical); err != nil {
		return fmt.Errorf("failed to delete building: %w", err)
	}
	for _, roomID := range roomIDs {
		s.purgeMedia(ctx, domain.KindRoom, roomID)
	}
	s.purgeMedia(ctx, domain.KindBuilding, canonical)

	s.invalidate(ctx)
	s.logger.Info("building deleted", "id", canonical, "rooms", len(roomIDs))
	return nil
}

func (s *PropertyService) DeleteRoom(ctx context.Context, sess auth.Session, id string) error {
	if err := requireWrite(sess); err != nil {
		return err
	}
	canonical, err := s.resolveExisting(ctx, domain.KindRoom, id)
	if err != nil {
		return err
	}
	if err := s.entities.Delete(ctx, domain.KindRoom, canonical); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	s.purgeMedia(ctx, domain.KindRoom, canonical)

	s.invalidate(ctx)
	s.logger.Info("room deleted", "id", canonical)
	return nil
}

// purgeMedia removes asset rows and every blob under the entity's prefix,
// including blobs whose row was never written.
func (s *PropertyService) purgeMedia(ctx context.Context, kind domain.EntityKind, id string) {
	if n, err := s.media.DeleteByEntity(ctx, kind, id); err != nil {
		s.logger.Error("failed to delete media asset records", "kind", kind, "id", id, "error", err)
	} else if n > 0 {
		s.logger.Debug("media asset records deleted", "kind", kind, "id", id, "count", n)
	}

	paths, err := s.blobs.List(ctx, media.EntityPrefix(kind, id))
	if err != nil {
		s.logger.Error("failed to list blobs for deletion", "kind", kind, "id", id, "error", err)
		return
	}
	for _, p := range paths {
		s.removeBlob(ctx, p)
	}

	s.mu.Lock()
	delete(s.failed, workflowKey(kind, id))
	s.mu.Unlock()
}

func (s *PropertyService) removeBlob(ctx context.Context, path string) {
	err := s.blobs.Delete(ctx, path)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("failed to delete blob", "path", path, "error", err)
	}
}
