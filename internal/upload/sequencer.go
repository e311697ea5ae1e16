package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vbonduro/homewiz/internal/domain"
)

var (
	ErrPersistenceFailed  = errors.New("persistence failed")
	ErrAssetUploadFailed  = errors.New("asset upload failed")
	ErrFinalizationFailed = errors.New("finalization failed")
	ErrInvalidDraft       = errors.New("invalid draft")
	ErrInvalidTransition  = errors.New("invalid workflow transition")
	ErrCancelled          = errors.New("workflow cancelled before persistence")
)

// RecordStore persists entity records. The media field is passed as a []string
// and serialized by the store.
type RecordStore interface {
	Create(ctx context.Context, kind domain.EntityKind, fields domain.Fields) (string, error)
	Update(ctx context.Context, kind domain.EntityKind, id string, fields domain.Fields) error
}

// BlobStore is the subset of blobstore.BlobStore the sequencer needs.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// AssetRecorder persists a MediaAsset once its blob is stored.
type AssetRecorder interface {
	Create(ctx context.Context, asset *domain.MediaAsset) error
}

// IDReconciler is the subset of ident.Allocator the sequencer needs.
type IDReconciler interface {
	Reconcile(temporaryID, canonicalID string) error
	Resolve(id string) (string, error)
}

const defaultConcurrency = 4

type Sequencer struct {
	records     RecordStore
	blobs       BlobStore
	assets      AssetRecorder
	ids         IDReconciler
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
	newAssetID  func() string
}

type Option func(*Sequencer)

// WithConcurrency bounds the number of simultaneous asset uploads.
func WithConcurrency(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithAssetRecorder(r AssetRecorder) Option {
	return func(s *Sequencer) { s.assets = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

func WithAssetIDs(gen func() string) Option {
	return func(s *Sequencer) { s.newAssetID = gen }
}

func NewSequencer(records RecordStore, blobs BlobStore, ids IDReconciler, logger *slog.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		records:     records,
		blobs:       blobs,
		ids:         ids,
		logger:      logger,
		concurrency: defaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
		newAssetID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates a workflow in the Drafting state. Nothing touches the network
// until Run is called.
func (s *Sequencer) Start(draft Draft, observers ...Observer) *Workflow {
	return &Workflow{
		seq:       s,
		draft:     draft,
		observers: observers,
		state:     Drafting,
	}
}
