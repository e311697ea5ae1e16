package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/media"
	"golang.org/x/sync/errgroup"
)

// PendingAsset is a locally selected file that has not been uploaded yet.
type PendingAsset struct {
	Filename    string
	ContentType string
	Category    domain.MediaCategory
	Data        []byte
}

// Draft describes one entity-creation-with-media action.
type Draft struct {
	Kind        domain.EntityKind
	TemporaryID string
	// CanonicalID targets an existing entity; Persisting then updates it
	// instead of creating a new record.
	CanonicalID string
	Fields      domain.Fields
	// ExistingReferences is the entity's stored media field. Uploaded URLs are
	// appended to it during Finalizing.
	ExistingReferences media.RawReferences
	// SortOffset is added to each asset's selection index to form its sort order.
	SortOffset int
	Assets     []PendingAsset
}

// AssetFailure records a per-asset upload error. Err wraps ErrAssetUploadFailed.
type AssetFailure struct {
	Index    int
	Filename string
	Err      error
}

// Result is a snapshot of a workflow.
type Result struct {
	Kind        domain.EntityKind
	TemporaryID string
	CanonicalID string
	State       State
	References  []string
	Assets      []domain.MediaAsset
	Failures    []AssetFailure
	Err         error
}

// Observer is notified of every state transition.
type Observer func(from, to State)

// Workflow drives a single Draft through the upload state machine.
type Workflow struct {
	seq       *Sequencer
	draft     Draft
	observers []Observer

	// runMu serializes Run and RetryFinalize.
	runMu      sync.Mutex
	existing   []string
	references []string
	uploaded   []domain.MediaAsset
	failures   []AssetFailure
	err        error

	// mu guards state and canonicalID, which observers may read mid-run.
	mu          sync.Mutex
	state       State
	canonicalID string
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CanonicalID is empty until the entity has been persisted.
func (w *Workflow) CanonicalID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canonicalID
}

func (w *Workflow) setCanonicalID(id string) {
	w.mu.Lock()
	w.canonicalID = id
	w.mu.Unlock()
}

// Run executes the workflow from Drafting. The returned error is the fatal
// workflow error; per-asset failures are reported in Result.Failures only.
// Caller cancellation is honoured until the entity is persisted. From then on
// uploads and finalization run to completion.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if st := w.State(); st != Drafting {
		return w.result(), fmt.Errorf("%w: run from %s", ErrInvalidTransition, st)
	}
	if err := w.validate(); err != nil {
		return w.abort(err)
	}
	if err := ctx.Err(); err != nil {
		return w.abort(fmt.Errorf("%w: %w", ErrCancelled, err))
	}

	w.transition(Persisting)
	if err := w.persist(ctx); err != nil {
		return w.abort(err)
	}
	w.transition(Persisted)

	ctx = context.WithoutCancel(ctx)

	w.transition(UploadingAssets)
	w.uploadAll(ctx)

	return w.finalize(ctx, w.existing)
}

// RetryFinalize re-runs Finalizing after an ErrFinalizationFailed failure, using
// the already uploaded asset URLs. Nothing is uploaded again. current is the
// entity's media field as stored now; the uploaded URLs are merged into it.
// Uploaded assets for which linked reports false were removed since the
// failure and are dropped. A nil linked keeps every asset.
func (w *Workflow) RetryFinalize(ctx context.Context, current media.RawReferences, linked func(domain.MediaAsset) (bool, error)) (*Result, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if st := w.State(); st != Failed || !errors.Is(w.err, ErrFinalizationFailed) {
		return w.result(), fmt.Errorf("%w: retry finalize from %s", ErrInvalidTransition, st)
	}

	kept := w.uploaded
	if linked != nil {
		kept = make([]domain.MediaAsset, 0, len(w.uploaded))
		for _, a := range w.uploaded {
			ok, err := linked(a)
			if err != nil {
				return w.result(), fmt.Errorf("failed to check asset %s: %w", a.AssetID, err)
			}
			if !ok {
				w.seq.logger.Info("asset removed before retry, not linking", "kind", w.draft.Kind, "id", w.canonicalID, "asset_id", a.AssetID)
				continue
			}
			kept = append(kept, a)
		}
	}
	w.uploaded = kept
	w.err = nil
	return w.finalize(ctx, media.Normalize(current))
}

func (w *Workflow) validate() error {
	if !w.draft.Kind.Valid() {
		return fmt.Errorf("%w: unknown entity kind %q", ErrInvalidDraft, w.draft.Kind)
	}
	for i, a := range w.draft.Assets {
		if !a.Category.ValidFor(w.draft.Kind) {
			return fmt.Errorf("%w: asset %d: category %q is not valid for a %s", ErrInvalidDraft, i, a.Category, w.draft.Kind)
		}
		if len(a.Data) == 0 {
			return fmt.Errorf("%w: asset %d: %s is empty", ErrInvalidDraft, i, a.Filename)
		}
	}
	return nil
}

func (w *Workflow) persist(ctx context.Context) error {
	kind := w.draft.Kind
	mediaField := kind.MediaField()

	fields := make(domain.Fields, len(w.draft.Fields)+1)
	for k, v := range w.draft.Fields {
		fields[k] = v
	}
	w.existing = media.Normalize(w.draft.ExistingReferences)
	if v, ok := fields[mediaField]; ok {
		w.existing = media.Merge(w.existing, media.NormalizeValue(v))
		delete(fields, mediaField)
	}

	if w.draft.CanonicalID == "" {
		fields[mediaField] = w.existing
		id, err := w.seq.records.Create(ctx, kind, fields)
		if err != nil {
			return fmt.Errorf("%w: create %s: %w", ErrPersistenceFailed, kind, err)
		}
		w.setCanonicalID(id)
	} else {
		id, err := w.seq.ids.Resolve(w.draft.CanonicalID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
		}
		if len(fields) > 0 {
			if err := w.seq.records.Update(ctx, kind, id, fields); err != nil {
				return fmt.Errorf("%w: update %s %s: %w", ErrPersistenceFailed, kind, id, err)
			}
		}
		w.setCanonicalID(id)
	}

	if w.draft.TemporaryID != "" && w.draft.TemporaryID != w.canonicalID {
		if err := w.seq.ids.Reconcile(w.draft.TemporaryID, w.canonicalID); err != nil {
			return fmt.Errorf("failed to reconcile %s: %w", w.draft.TemporaryID, err)
		}
	}
	w.seq.logger.Info("entity persisted", "kind", kind, "id", w.canonicalID, "temporary_id", w.draft.TemporaryID)
	return nil
}

type outcome struct {
	asset *domain.MediaAsset
	err   error
}

func (w *Workflow) uploadAll(ctx context.Context) {
	assets := w.draft.Assets
	names := uniqueFilenames(assets)
	outcomes := make([]outcome, len(assets))

	var g errgroup.Group
	g.SetLimit(w.seq.concurrency)
	for i := range assets {
		g.Go(func() error {
			asset, err := w.uploadOne(ctx, i, names[i], assets[i])
			outcomes[i] = outcome{asset: asset, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			w.seq.logger.Warn("asset upload failed", "kind", w.draft.Kind, "id", w.canonicalID, "filename", assets[i].Filename, "error", o.err)
			w.failures = append(w.failures, AssetFailure{Index: i, Filename: assets[i].Filename, Err: o.err})
			continue
		}
		w.uploaded = append(w.uploaded, *o.asset)
	}
}

func (w *Workflow) uploadOne(ctx context.Context, index int, filename string, a PendingAsset) (*domain.MediaAsset, error) {
	uploadedAt := w.seq.now()
	storagePath := media.StoragePath(w.draft.Kind, w.canonicalID, a.Category, uploadedAt, filename)

	publicURL, err := w.seq.blobs.Put(ctx, storagePath, bytes.NewReader(a.Data), a.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAssetUploadFailed, a.Filename, err)
	}
	if !media.IsValidReference(publicURL) {
		w.cleanupBlob(ctx, storagePath)
		return nil, fmt.Errorf("%w: %s: store returned unusable url %q", ErrAssetUploadFailed, a.Filename, publicURL)
	}

	asset := &domain.MediaAsset{
		AssetID:     w.seq.newAssetID(),
		EntityKind:  w.draft.Kind,
		EntityID:    w.canonicalID,
		Category:    a.Category,
		StoragePath: storagePath,
		PublicURL:   publicURL,
		MimeType:    a.ContentType,
		FileSize:    int64(len(a.Data)),
		SortOrder:   w.draft.SortOffset + index,
		UploadedAt:  uploadedAt,
	}
	if w.seq.assets != nil {
		if err := w.seq.assets.Create(ctx, asset); err != nil {
			w.cleanupBlob(ctx, storagePath)
			return nil, fmt.Errorf("%w: %s: record asset: %w", ErrAssetUploadFailed, a.Filename, err)
		}
	}
	return asset, nil
}

func (w *Workflow) cleanupBlob(ctx context.Context, storagePath string) {
	if err := w.seq.blobs.Delete(ctx, storagePath); err != nil {
		w.seq.logger.Error("failed to remove blob after upload error", "path", storagePath, "error", err)
	}
}

// finalize links the uploaded URLs by writing base followed by them to the
// entity's media field.
func (w *Workflow) finalize(ctx context.Context, base []string) (*Result, error) {
	w.transition(Finalizing)

	urls := make([]string, 0, len(w.uploaded))
	for _, a := range w.uploaded {
		urls = append(urls, a.PublicURL)
	}
	w.references = media.Merge(base, urls)

	kind := w.draft.Kind
	err := w.seq.records.Update(ctx, kind, w.canonicalID, domain.Fields{kind.MediaField(): w.references})
	if err != nil {
		w.err = fmt.Errorf("%w: %s %s: %w", ErrFinalizationFailed, kind, w.canonicalID, err)
		w.transition(Failed)
		w.seq.logger.Warn("finalization failed, uploaded assets are not linked",
			"kind", kind, "id", w.canonicalID, "assets", len(w.uploaded), "error", err)
		return w.result(), w.err
	}

	w.transition(Complete)
	w.seq.logger.Info("workflow complete",
		"kind", kind, "id", w.canonicalID, "references", len(w.references), "failed_assets", len(w.failures))
	return w.result(), nil
}

func (w *Workflow) abort(err error) (*Result, error) {
	w.err = err
	w.transition(Failed)
	return w.result(), err
}

func (w *Workflow) transition(to State) {
	w.mu.Lock()
	from := w.state
	if !canTransition(from, to) {
		w.mu.Unlock()
		panic(fmt.Sprintf("upload: %v: %s -> %s", ErrInvalidTransition, from, to))
	}
	w.state = to
	w.mu.Unlock()

	w.seq.logger.Debug("workflow transition", "kind", w.draft.Kind, "from", from, "to", to)
	for _, obs := range w.observers {
		obs(from, to)
	}
}

func (w *Workflow) result() *Result {
	r := &Result{
		Kind:        w.draft.Kind,
		TemporaryID: w.draft.TemporaryID,
		CanonicalID: w.canonicalID,
		State:       w.State(),
		References:  append([]string(nil), w.references...),
		Assets:      append([]domain.MediaAsset(nil), w.uploaded...),
		Failures:    append([]AssetFailure(nil), w.failures...),
		Err:         w.err,
	}
	if r.References == nil {
		r.References = []string{}
	}
	return r
}

// uniqueFilenames suffixes repeated sanitized names so two assets uploaded in
// the same millisecond never share a storage path.
func uniqueFilenames(assets []PendingAsset) []string {
	names := make([]string, len(assets))
	used := make(map[string]bool, len(assets))
	for i, a := range assets {
		base := media.SanitizeFilename(a.Filename)
		ext := path.Ext(base)
		name := base
		for n := 2; used[name]; n++ {
			name = strings.TrimSuffix(base, ext) + "_" + strconv.Itoa(n) + ext
		}
		used[name] = true
		names[i] = name
	}
	return names
}
