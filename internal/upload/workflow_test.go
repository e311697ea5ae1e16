package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/ident"
	"github.com/vbonduro/homewiz/internal/media"
)

// stubRecords is an in-memory RecordStore.
type stubRecords struct {
	mu          sync.Mutex
	createErr   error
	updateErrs  []error // consumed one per Update call
	created     []domain.Fields
	updates     []domain.Fields
	nextID      string
	createCalls int
}

func (s *stubRecords) Create(_ context.Context, _ domain.EntityKind, fields domain.Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = append(s.created, fields)
	if s.nextID == "" {
		return "bld_1", nil
	}
	return s.nextID, nil
}

func (s *stubRecords) Update(_ context.Context, _ domain.EntityKind, _ string, fields domain.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updateErrs) > 0 {
		err := s.updateErrs[0]
		s.updateErrs = s.updateErrs[1:]
		if err != nil {
			return err
		}
	}
	s.updates = append(s.updates, fields)
	return nil
}

func (s *stubRecords) lastUpdate() domain.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil
	}
	return s.updates[len(s.updates)-1]
}

// stubBlobs is an in-memory BlobStore. Paths containing a key of failOn fail;
// paths containing a key of delays sleep before returning.
type stubBlobs struct {
	mu      sync.Mutex
	puts    []string
	deletes []string
	failOn  []string
	delays  map[string]time.Duration
}

func (s *stubBlobs) Put(_ context.Context, path string, r io.Reader, _ string) (string, error) {
	_, _ = io.ReadAll(r)
	for key, d := range s.delays {
		if strings.Contains(path, key) {
			time.Sleep(d)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, path)
	for _, key := range s.failOn {
		if strings.Contains(path, key) {
			return "", errors.New("network unreachable")
		}
	}
	return "https://cdn.test/" + path, nil
}

func (s *stubBlobs) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, path)
	return nil
}

func (s *stubBlobs) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Create(ctx context.Context, asset *domain.MediaAsset) error {
	return m.Called(ctx, asset).Error(0)
}

func asset(name string) PendingAsset {
	return PendingAsset{
		Filename:    name,
		ContentType: "image/jpeg",
		Category:    domain.CategoryOutside,
		Data:        []byte("\xff\xd8\xff" + name),
	}
}

func newTestSequencer(records *stubRecords, blobs *stubBlobs, ids *ident.Allocator, opts ...Option) *Sequencer {
	return NewSequencer(records, blobs, ids, slog.Default(), opts...)
}

func TestRun_CreatesEntityThenUploadsThenFinalizes(t *testing.T) {
	records := &stubRecords{nextID: "bld_42"}
	blobs := &stubBlobs{}
	ids := ident.NewAllocator()
	tmp := ids.AllocateTemporary(domain.KindBuilding)

	var seen []State
	wf := newTestSequencer(records, blobs, ids).Start(Draft{
		Kind:        domain.KindBuilding,
		TemporaryID: tmp,
		Fields:      domain.Fields{"building_name": "Maple"},
		Assets:      []PendingAsset{asset("a.jpg"), asset("b.jpg")},
	}, func(_, to State) { seen = append(seen, to) })

	res, err := wf.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Complete, res.State)
	assert.Equal(t, "bld_42", res.CanonicalID)
	assert.Equal(t, []State{Persisting, Persisted, UploadingAssets, Finalizing, Complete}, seen)
	require.Len(t, res.References, 2)
	assert.Empty(t, res.Failures)

	resolved, err := ids.Resolve(tmp)
	require.NoError(t, err)
	assert.Equal(t, "bld_42", resolved)

	require.Len(t, records.created, 1)
	assert.Equal(t, []string{}, records.created[0]["building_images"])
	assert.Equal(t, res.References, records.lastUpdate()["building_images"])

	for _, p := range blobs.puts {
		assert.True(t, strings.HasPrefix(p, "buildings/bld_42/outside/"), p)
		assert.NotContains(t, p, tmp)
	}
}

func TestRun_PersistenceFailureUploadsNothing(t *testing.T) {
	records := &stubRecords{createErr: errors.New("db down")}
	blobs := &stubBlobs{}
	ids := ident.NewAllocator()
	tmp := ids.AllocateTemporary(domain.KindBuilding)

	wf := newTestSequencer(records, blobs, ids).Start(Draft{
		Kind:        domain.KindBuilding,
		TemporaryID: tmp,
		Assets:      []PendingAsset{asset("a.jpg"), asset("b.jpg")},
	})

	res, err := wf.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailed)
	assert.Equal(t, Failed, res.State)
	assert.Empty(t, res.CanonicalID)
	assert.Equal(t, 0, blobs.putCount())

	_, err = ids.Resolve(tmp)
	assert.ErrorIs(t, err, ident.ErrUnreconciled)
}

func TestRun_ReconcileConflictFailsBeforeUploading(t *testing.T) {
	records := &stubRecords{nextID: "bld_2"}
	blobs := &stubBlobs{}
	ids := ident.NewAllocator()
	tmp := ids.AllocateTemporary(domain.KindBuilding)
	require.NoError(t, ids.Reconcile(tmp, "bld_1"))

	var seen []State
	wf := newTestSequencer(records, blobs, ids).Start(Draft{
		Kind:        domain.KindBuilding,
		TemporaryID: tmp,
		Assets:      []PendingAsset{asset("a.jpg")},
	}, func(_, to State) { seen = append(seen, to) })

	res, err := wf.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ident.ErrConflictingReconciliation)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, []State{Persisting, Failed}, seen)
	assert.Equal(t, 0, blobs.putCount())
	assert.Empty(t, records.updates)

	resolved, err := ids.Resolve(tmp)
	require.NoError(t, err)
	assert.Equal(t, "bld_1", resolved)
}

func TestRun_ObserverCanReadCanonicalID(t *testing.T) {
	var wf *Workflow
	var persistedID string
	wf = newTestSequencer(&stubRecords{nextID: "bld_9"}, &stubBlobs{}, ident.NewAllocator()).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("a.jpg")},
	}, func(_, to State) {
		if to == Persisted {
			persistedID = wf.CanonicalID()
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := wf.Run(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, "bld_9", persistedID)
	assert.Equal(t, "bld_9", wf.CanonicalID())
}

func TestRun_PartialUploadFailureStillCompletes(t *testing.T) {
	records := &stubRecords{}
	blobs := &stubBlobs{failOn: []string{"broken"}}

	wf := newTestSequencer(records, blobs, ident.NewAllocator()).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("one.jpg"), asset("broken.jpg"), asset("three.jpg")},
	})

	res, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Complete, res.State)
	assert.Len(t, res.References, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, "broken.jpg", res.Failures[0].Filename)
	assert.ErrorIs(t, res.Failures[0].Err, ErrAssetUploadFailed)
	for _, ref := range res.References {
		assert.NotContains(t, ref, "broken")
	}
}

func TestRun_FinalizationFailureThenRetry(t *testing.T) {
	records := &stubRecords{updateErrs: []error{errors.New("timeout")}}
	blobs := &stubBlobs{}

	wf := newTestSequencer(records, blobs, ident.NewAllocator()).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("a.jpg"), asset("b.jpg")},
	})

	res, err := wf.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFinalizationFailed)
	assert.Equal(t, Failed, res.State)
	assert.Len(t, res.Assets, 2)
	failedRefs := res.References

	res, err = wf.RetryFinalize(context.Background(), media.Absent(), nil)
	require.NoError(t, err)
	assert.Equal(t, Complete, res.State)
	assert.Equal(t, failedRefs, res.References)
	assert.Equal(t, 2, blobs.putCount())
	assert.Equal(t, res.References, records.lastUpdate()["building_images"])
}

func TestRetryFinalize_MergesCurrentReferencesAndDropsRemovedAssets(t *testing.T) {
	records := &stubRecords{updateErrs: []error{errors.New("timeout")}}
	blobs := &stubBlobs{}

	wf := newTestSequencer(records, blobs, ident.NewAllocator(), WithConcurrency(1)).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("a.jpg"), asset("b.jpg")},
	})
	res, err := wf.Run(context.Background())
	require.ErrorIs(t, err, ErrFinalizationFailed)
	require.Len(t, res.Assets, 2)
	removed := res.Assets[0]
	kept := res.Assets[1]

	current := media.List([]string{"https://cdn.test/other.jpg", removed.PublicURL})
	res, err = wf.RetryFinalize(context.Background(), current, func(a domain.MediaAsset) (bool, error) {
		return a.AssetID != removed.AssetID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, Complete, res.State)
	// The current list is authoritative for what was linked before the retry.
	assert.Equal(t, []string{"https://cdn.test/other.jpg", removed.PublicURL, kept.PublicURL}, res.References)
	require.Len(t, res.Assets, 1)
	assert.Equal(t, kept.AssetID, res.Assets[0].AssetID)
	assert.Equal(t, 2, blobs.putCount())
}

func TestRetryFinalize_LinkedCheckErrorKeepsWorkflowRetryable(t *testing.T) {
	records := &stubRecords{updateErrs: []error{errors.New("timeout")}}
	wf := newTestSequencer(records, &stubBlobs{}, ident.NewAllocator()).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("a.jpg")},
	})
	_, err := wf.Run(context.Background())
	require.ErrorIs(t, err, ErrFinalizationFailed)

	_, err = wf.RetryFinalize(context.Background(), media.Absent(), func(domain.MediaAsset) (bool, error) {
		return false, errors.New("db down")
	})
	require.Error(t, err)
	assert.Equal(t, Failed, wf.State())

	res, err := wf.RetryFinalize(context.Background(), media.Absent(), nil)
	require.NoError(t, err)
	assert.Len(t, res.References, 1)
}

func TestRetryFinalize_RejectedOutsideFinalizationFailure(t *testing.T) {
	records := &stubRecords{createErr: errors.New("db down")}
	wf := newTestSequencer(records, &stubBlobs{}, ident.NewAllocator()).Start(Draft{Kind: domain.KindRoom})

	_, err := wf.RetryFinalize(context.Background(), media.Absent(), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = wf.Run(context.Background())
	require.ErrorIs(t, err, ErrPersistenceFailed)

	_, err = wf.RetryFinalize(context.Background(), media.Absent(), nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRun_TwiceIsRejected(t *testing.T) {
	wf := newTestSequencer(&stubRecords{}, &stubBlobs{}, ident.NewAllocator()).Start(Draft{Kind: domain.KindBuilding})
	_, err := wf.Run(context.Background())
	require.NoError(t, err)

	_, err = wf.Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRun_SortOrderFollowsSelectionOrder(t *testing.T) {
	blobs := &stubBlobs{delays: map[string]time.Duration{"first": 40 * time.Millisecond}}
	var n int
	var mu sync.Mutex
	wf := newTestSequencer(&stubRecords{}, blobs, ident.NewAllocator(),
		WithConcurrency(3),
		WithAssetIDs(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("asset-%d", n)
		}),
	).Start(Draft{
		Kind:       domain.KindBuilding,
		SortOffset: 5,
		Assets:     []PendingAsset{asset("first.jpg"), asset("second.jpg"), asset("third.jpg")},
	})

	res, err := wf.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Assets, 3)
	for i, a := range res.Assets {
		assert.Equal(t, 5+i, a.SortOrder)
	}
	assert.Contains(t, res.References[0], "first.jpg")
	assert.Contains(t, res.References[1], "second.jpg")
	assert.Contains(t, res.References[2], "third.jpg")
}

func TestRun_MergesExistingReferences(t *testing.T) {
	records := &stubRecords{}
	wf := newTestSequencer(records, &stubBlobs{}, ident.NewAllocator()).Start(Draft{
		Kind:               domain.KindBuilding,
		CanonicalID:        "bld_7",
		ExistingReferences: media.Text(`["https://a/x.jpg","/rel.jpg","https://a/x.jpg"]`),
		Assets:             []PendingAsset{asset("new.jpg")},
	})

	res, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bld_7", res.CanonicalID)
	assert.Equal(t, 0, records.createCalls)
	require.Len(t, res.References, 2)
	assert.Equal(t, "https://a/x.jpg", res.References[0])
	assert.True(t, strings.HasPrefix(res.References[1], "https://cdn.test/buildings/bld_7/outside/"))
}

func TestRun_CancelledBeforePersisting(t *testing.T) {
	records := &stubRecords{}
	blobs := &stubBlobs{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wf := newTestSequencer(records, blobs, ident.NewAllocator()).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("a.jpg")},
	})
	res, err := wf.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 0, records.createCalls)
	assert.Equal(t, 0, blobs.putCount())
}

func TestRun_RejectsInvalidDraft(t *testing.T) {
	tests := []struct {
		name  string
		draft Draft
	}{
		{name: "unknown kind", draft: Draft{Kind: "tenant"}},
		{name: "room with building category", draft: Draft{Kind: domain.KindRoom, Assets: []PendingAsset{asset("a.jpg")}}},
		{name: "empty file", draft: Draft{Kind: domain.KindBuilding, Assets: []PendingAsset{{Filename: "a.jpg", Category: domain.CategoryOutside}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &stubRecords{}
			_, err := newTestSequencer(records, &stubBlobs{}, ident.NewAllocator()).Start(tt.draft).Run(context.Background())
			assert.ErrorIs(t, err, ErrInvalidDraft)
			assert.Equal(t, 0, records.createCalls)
		})
	}
}

func TestRun_AssetRecordFailureRemovesBlob(t *testing.T) {
	recorder := &mockRecorder{}
	recorder.On("Create", mock.Anything, mock.MatchedBy(func(a *domain.MediaAsset) bool {
		return strings.HasSuffix(a.StoragePath, "good.jpg")
	})).Return(nil)
	recorder.On("Create", mock.Anything, mock.Anything).Return(errors.New("constraint"))

	blobs := &stubBlobs{}
	wf := newTestSequencer(&stubRecords{}, blobs, ident.NewAllocator(), WithAssetRecorder(recorder), WithConcurrency(1)).Start(Draft{
		Kind:   domain.KindBuilding,
		Assets: []PendingAsset{asset("good.jpg"), asset("bad.jpg")},
	})

	res, err := wf.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.References, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad.jpg", res.Failures[0].Filename)
	require.Len(t, blobs.deletes, 1)
	assert.True(t, strings.HasSuffix(blobs.deletes[0], "bad.jpg"))
	recorder.AssertNumberOfCalls(t, "Create", 2)
}

func TestUniqueFilenames(t *testing.T) {
	names := uniqueFilenames([]PendingAsset{
		{Filename: "IMG.jpg"}, {Filename: "img.jpg"}, {Filename: "other.png"}, {Filename: "img.JPG"},
	})
	assert.Equal(t, []string{"img.jpg", "img_2.jpg", "other.png", "img_3.jpg"}, names)
}

func TestUniqueFilenames_SkipsNamesAlreadyTaken(t *testing.T) {
	names := uniqueFilenames([]PendingAsset{
		{Filename: "a.jpg"}, {Filename: "a_2.jpg"}, {Filename: "a.jpg"}, {Filename: "a_2.jpg"},
	})
	assert.Equal(t, []string{"a.jpg", "a_2.jpg", "a_3.jpg", "a_2_2.jpg"}, names)
}
