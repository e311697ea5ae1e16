package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/ident"
	"github.com/vbonduro/homewiz/internal/media"
	"github.com/vbonduro/homewiz/internal/upload"
)

// Upload is a file selected by the user. Category may be empty.
type Upload struct {
	Filename    string
	ContentType string
	Category    string
	Data        []byte
}

// CreateRequest carries the record fields of a new building or room and the
// temporary identifier the client drafted it under, if any.
type CreateRequest struct {
	TemporaryID string
	Fields      domain.Fields
}

// CreateBuilding persists a building and then uploads its photos.
func (s *PropertyService) CreateBuilding(ctx context.Context, sess auth.Session, req CreateRequest, uploads []Upload) (*upload.Result, error) {
	if err := requireWrite(sess); err != nil {
		return nil, err
	}
	if err := checkTemporaryID(domain.KindBuilding, req.TemporaryID); err != nil {
		return nil, err
	}
	if !nonEmptyString(req.Fields["building_name"]) {
		return nil, fmt.Errorf("%w: building_name is required", ErrInvalid)
	}
	unlock, err := s.claimTemporaryID(domain.KindBuilding, req.TemporaryID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	assets, err := s.prepareAssets(ctx, domain.KindBuilding, uploads)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, upload.Draft{
		Kind:        domain.KindBuilding,
		TemporaryID: req.TemporaryID,
		Fields:      req.Fields,
		Assets:      assets,
	})
}

// CreateRoom persists a room and then uploads its photos. building_id may be a
// temporary identifier as long as its building has already been persisted.
func (s *PropertyService) CreateRoom(ctx context.Context, sess auth.Session, req CreateRequest, uploads []Upload) (*upload.Result, error) {
	if err := requireWrite(sess); err != nil {
		return nil, err
	}
	if err := checkTemporaryID(domain.KindRoom, req.TemporaryID); err != nil {
		return nil, err
	}
	if !nonEmptyString(req.Fields["room_number"]) {
		return nil, fmt.Errorf("%w: room_number is required", ErrInvalid)
	}
	unlock, err := s.claimTemporaryID(domain.KindRoom, req.TemporaryID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	fields := make(domain.Fields, len(req.Fields))
	for k, v := range req.Fields {
		fields[k] = v
	}
	if raw, ok := fields["building_id"].(string); ok && raw != "" {
		buildingID, err := s.resolveExisting(ctx, domain.KindBuilding, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve building %s: %w", raw, err)
		}
		fields["building_id"] = buildingID
	}

	assets, err := s.prepareAssets(ctx, domain.KindRoom, uploads)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, upload.Draft{
		Kind:        domain.KindRoom,
		TemporaryID: req.TemporaryID,
		Fields:      fields,
		Assets:      assets,
	})
}

// AttachMedia uploads more photos to an existing entity. New references are
// appended after the existing ones.
func (s *PropertyService) AttachMedia(ctx context.Context, sess auth.Session, kind domain.EntityKind, id string, uploads []Upload) (*upload.Result, error) {
	if err := requireWrite(sess); err != nil {
		return nil, err
	}
	canonical, err := s.resolveExisting(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: no images", ErrInvalid)
	}
	assets, err := s.prepareAssets(ctx, kind, uploads)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntity(kind, canonical)
	defer unlock()

	refs, err := s.entities.MediaReferences(ctx, kind, canonical)
	if err != nil {
		return nil, err
	}
	offset, err := s.media.NextSortOrder(ctx, kind, canonical)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, upload.Draft{
		Kind:               kind,
		CanonicalID:        canonical,
		ExistingReferences: media.List(refs),
		SortOffset:         offset,
		Assets:             assets,
	})
}

// RetryFinalize re-links already uploaded photos after a failed finalization.
// Every pending workflow of the entity is retried in failure order, each merged
// into the media field as it is stored at that moment. Assets deleted since the
// failure are not linked again.
func (s *PropertyService) RetryFinalize(ctx context.Context, sess auth.Session, kind domain.EntityKind, id string) (*upload.Result, error) {
	if err := requireWrite(sess); err != nil {
		return nil, err
	}
	canonical, err := s.ids.Resolve(id)
	if err != nil {
		return nil, err
	}
	key := workflowKey(kind, canonical)

	unlock := s.lockEntity(kind, canonical)
	defer unlock()

	s.mu.Lock()
	pending := slices.Clone(s.failed[key])
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoPendingWorkflow, kind, canonical)
	}

	stillStored := func(a domain.MediaAsset) (bool, error) {
		row, err := s.media.GetByID(ctx, a.AssetID)
		return row != nil, err
	}

	var res *upload.Result
	for i, wf := range pending {
		refs, err := s.entities.MediaReferences(ctx, kind, canonical)
		if err == nil {
			res, err = wf.RetryFinalize(ctx, media.List(refs), stillStored)
		}
		if err != nil {
			if i > 0 {
				s.invalidate(ctx)
			}
			return res, err
		}
		s.forgetFailed(key, wf)
	}

	s.invalidate(ctx)
	s.logger.Info("finalization retried", "kind", kind, "id", canonical, "workflows", len(pending), "references", len(res.References))
	return res, nil
}

func (s *PropertyService) run(ctx context.Context, draft upload.Draft) (*upload.Result, error) {
	wf := s.sequencer.Start(draft)
	res, err := wf.Run(ctx)
	if res.CanonicalID != "" {
		s.invalidate(ctx)
	}
	if errors.Is(err, upload.ErrFinalizationFailed) {
		key := workflowKey(res.Kind, res.CanonicalID)
		s.mu.Lock()
		s.failed[key] = append(s.failed[key], wf)
		s.mu.Unlock()
	}
	return res, err
}

func (s *PropertyService) forgetFailed(key string, wf *upload.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := slices.DeleteFunc(s.failed[key], func(p *upload.Workflow) bool { return p == wf })
	if len(pending) == 0 {
		delete(s.failed, key)
		return
	}
	s.failed[key] = pending
}

// claimTemporaryID serializes creates drafted under the same temporary
// identifier and rejects one that is already bound, so a resubmitted create
// never persists a second record. The returned func releases the claim.
func (s *PropertyService) claimTemporaryID(kind domain.EntityKind, id string) (func(), error) {
	if id == "" {
		return func() {}, nil
	}
	unlock := s.lockEntity(kind, id)
	canonical, err := s.ids.Resolve(id)
	switch {
	case err == nil:
		unlock()
		return nil, fmt.Errorf("%w: %s is already bound to %s", ident.ErrConflictingReconciliation, id, canonical)
	case !errors.Is(err, ident.ErrUnreconciled):
		unlock()
		return nil, err
	}
	return unlock, nil
}

// prepareAssets validates categories before anything is persisted. Building
// photos without a category are classified by the categorizer when one is
// configured and otherwise filed under outside.
func (s *PropertyService) prepareAssets(ctx context.Context, kind domain.EntityKind, uploads []Upload) ([]upload.PendingAsset, error) {
	assets := make([]upload.PendingAsset, 0, len(uploads))
	for i, u := range uploads {
		if len(u.Data) == 0 {
			return nil, fmt.Errorf("%w: image %d (%s) is empty", ErrInvalid, i, u.Filename)
		}
		category := domain.MediaCategory(strings.TrimSpace(u.Category))
		if category == "" {
			category = s.defaultCategory(ctx, kind, u)
		}
		if !category.ValidFor(kind) {
			return nil, fmt.Errorf("%w: category %q is not valid for a %s", ErrInvalid, category, kind)
		}
		assets = append(assets, upload.PendingAsset{
			Filename:    u.Filename,
			ContentType: u.ContentType,
			Category:    category,
			Data:        u.Data,
		})
	}
	return assets, nil
}

func (s *PropertyService) defaultCategory(ctx context.Context, kind domain.EntityKind, u Upload) domain.MediaCategory {
	if kind == domain.KindRoom {
		return domain.CategoryUncategorized
	}
	if s.categorizer == nil {
		return domain.CategoryOutside
	}
	category, err := s.categorizer.Categorize(ctx, bytes.NewReader(u.Data), u.ContentType)
	if err != nil {
		s.logger.Warn("photo categorization failed, filing under outside", "filename", u.Filename, "error", err)
		return domain.CategoryOutside
	}
	s.logger.Debug("photo categorized", "filename", u.Filename, "category", category)
	return category
}

func checkTemporaryID(kind domain.EntityKind, id string) error {
	if id == "" {
		return nil
	}
	k, ok := ident.KindOf(id)
	if !ok || k != kind {
		return fmt.Errorf("%w: %q is not a temporary %s identifier", ErrInvalid, id, kind)
	}
	return nil
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}
