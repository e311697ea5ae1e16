package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/blobstore"
	"github.com/vbonduro/homewiz/internal/cache"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/upload"
	"github.com/vbonduro/homewiz/internal/vision"
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid request")
	ErrNoPendingWorkflow = errors.New("no failed workflow to retry")
)

const buildingListKey = "buildings:list"

// entityRepository is the subset of store.EntityStore that PropertyService requires.
type entityRepository interface {
	Create(ctx context.Context, kind domain.EntityKind, fields domain.Fields) (string, error)
	Update(ctx context.Context, kind domain.EntityKind, id string, fields domain.Fields) error
	Delete(ctx context.Context, kind domain.EntityKind, id string) error
	Exists(ctx context.Context, kind domain.EntityKind, id string) (bool, error)
	MediaReferences(ctx context.Context, kind domain.EntityKind, id string) ([]string, error)
}

// buildingRepository is the subset of store.BuildingStore that PropertyService requires.
type buildingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Building, error)
	List(ctx context.Context) ([]*domain.Building, error)
}

// roomRepository is the subset of store.RoomStore that PropertyService requires.
type roomRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	List(ctx context.Context, buildingID string) ([]*domain.Room, error)
	IDsForBuilding(ctx context.Context, buildingID string) ([]string, error)
}

// mediaRepository is the subset of store.MediaStore that PropertyService requires.
type mediaRepository interface {
	Create(ctx context.Context, asset *domain.MediaAsset) error
	GetByID(ctx context.Context, assetID string) (*domain.MediaAsset, error)
	ListByEntity(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.MediaAsset, error)
	NextSortOrder(ctx context.Context, kind domain.EntityKind, entityID string) (int, error)
	UpdateSortOrder(ctx context.Context, assetID string, sortOrder int) error
	Delete(ctx context.Context, assetID string) error
	DeleteByEntity(ctx context.Context, kind domain.EntityKind, entityID string) (int64, error)
}

// idAllocator is the subset of ident.Allocator that PropertyService requires.
type idAllocator interface {
	AllocateTemporary(kind domain.EntityKind) string
	Reconcile(temporaryID, canonicalID string) error
	Resolve(id string) (string, error)
}

type PropertyService struct {
	entities    entityRepository
	buildings   buildingRepository
	rooms       roomRepository
	media       mediaRepository
	blobs       blobstore.BlobStore
	ids         idAllocator
	categorizer vision.Categorizer
	cache       cache.Cache
	sequencer   *upload.Sequencer
	logger      *slog.Logger

	mu          sync.Mutex
	failed      map[string][]*upload.Workflow
	entityLocks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// NewPropertyService wires the stores together. categorizer may be nil, in
// which case uncategorized building photos are filed under outside.
func NewPropertyService(
	entities entityRepository,
	buildings buildingRepository,
	rooms roomRepository,
	media mediaRepository,
	blobs blobstore.BlobStore,
	ids idAllocator,
	categorizer vision.Categorizer,
	c cache.Cache,
	logger *slog.Logger,
	opts ...upload.Option,
) *PropertyService {
	opts = append([]upload.Option{upload.WithAssetRecorder(media)}, opts...)
	return &PropertyService{
		entities:    entities,
		buildings:   buildings,
		rooms:       rooms,
		media:       media,
		blobs:       blobs,
		ids:         ids,
		categorizer: categorizer,
		cache:       c,
		sequencer:   upload.NewSequencer(entities, blobs, ids, logger, opts...),
		logger:      logger,
		failed:      make(map[string][]*upload.Workflow),
		entityLocks: make(map[string]*entityLock),
	}
}

func requireWrite(sess auth.Session) error {
	if !sess.CanWrite() {
		return fmt.Errorf("%w: role %q cannot modify listings", ErrForbidden, sess.Role)
	}
	return nil
}

func (s *PropertyService) AllocateTemporaryID(_ context.Context, sess auth.Session, kind domain.EntityKind) (string, error) {
	if err := requireWrite(sess); err != nil {
		return "", err
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	return s.ids.AllocateTemporary(kind), nil
}

// ResolveID maps a temporary identifier to its canonical one. Canonical
// identifiers are returned unchanged.
func (s *PropertyService) ResolveID(_ context.Context, _ auth.Session, id string) (string, error) {
	return s.ids.Resolve(id)
}

func (s *PropertyService) ListBuildings(ctx context.Context, _ auth.Session) ([]*domain.Building, error) {
	if raw, ok := s.cache.Get(ctx, buildingListKey); ok {
		var cached []*domain.Building
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		s.logger.Warn("discarding unreadable cached building list")
		s.cache.Delete(ctx, buildingListKey)
	}

	buildings, err := s.buildings.List(ctx)
	if err != nil {
		return nil, err
	}
	if buildings == nil {
		buildings = []*domain.Building{}
	}
	if raw, err := json.Marshal(buildings); err == nil {
		s.cache.Set(ctx, buildingListKey, raw)
	}
	return buildings, nil
}

func (s *PropertyService) GetBuilding(ctx context.Context, _ auth.Session, id string) (*domain.Building, error) {
	canonical, err := s.ids.Resolve(id)
	if err != nil {
		return nil, err
	}
	b, err := s.buildings.GetByID(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: building %s", ErrNotFound, canonical)
	}
	return b, nil
}

// ListRooms returns every room, or those of one building when buildingID is set.
func (s *PropertyService) ListRooms(ctx context.Context, _ auth.Session, buildingID string) ([]*domain.Room, error) {
	if buildingID != "" {
		canonical, err := s.ids.Resolve(buildingID)
		if err != nil {
			return nil, err
		}
		buildingID = canonical
	}
	rooms, err := s.rooms.List(ctx, buildingID)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []*domain.Room{}
	}
	return rooms, nil
}

func (s *PropertyService) GetRoom(ctx context.Context, _ auth.Session, id string) (*domain.Room, error) {
	canonical, err := s.ids.Resolve(id)
	if err != nil {
		return nil, err
	}
	r, err := s.rooms.GetByID(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, canonical)
	}
	return r, nil
}

func (s *PropertyService) ListMedia(ctx context.Context, _ auth.Session, kind domain.EntityKind, id string) ([]*domain.MediaAsset, error) {
	canonical, err := s.resolveExisting(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return s.media.ListByEntity(ctx, kind, canonical)
}

// OpenMedia streams a stored blob. Used when blobs are served by this process.
func (s *PropertyService) OpenMedia(ctx context.Context, path string) (io.ReadCloser, string, error) {
	rc, ct, err := s.blobs.Get(ctx, path)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return rc, ct, err
}

// resolveExisting resolves id and checks that the record exists.
func (s *PropertyService) resolveExisting(ctx context.Context, kind domain.EntityKind, id string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
	canonical, err := s.ids.Resolve(id)
	if err != nil {
		return "", err
	}
	exists, err := s.entities.Exists(ctx, kind, canonical)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, kind, canonical)
	}
	return canonical, nil
}

func (s *PropertyService) invalidate(ctx context.Context) {
	s.cache.Delete(ctx, buildingListKey)
}

// lockEntity serializes read-modify-write cycles on one entity's reference list.
func (s *PropertyService) lockEntity(kind domain.EntityKind, id string) func() {
	key := workflowKey(kind, id)
	s.mu.Lock()
	l, ok := s.entityLocks[key]
	if !ok {
		l = &entityLock{}
		s.entityLocks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.entityLocks, key)
		}
		s.mu.Unlock()
	}
}

func workflowKey(kind domain.EntityKind, id string) string {
	return string(kind) + ":" + id
}
