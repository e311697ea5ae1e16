package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/blobstore/local"
	"github.com/vbonduro/homewiz/internal/cache"
	"github.com/vbonduro/homewiz/internal/db"
	"github.com/vbonduro/homewiz/internal/ident"
	"github.com/vbonduro/homewiz/internal/service"
	"github.com/vbonduro/homewiz/internal/store"
	"github.com/vbonduro/homewiz/internal/web"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

type denyAll struct{}

func (denyAll) Authenticate(context.Context, string) (auth.Session, error) {
	return auth.Session{}, auth.ErrUnauthenticated
}

// newTestServer sets up a real web.Server backed by in-memory SQLite and a
// local blob directory.
func newTestServer(t *testing.T, authn auth.Authenticator) *httptest.Server {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	blobs, err := local.New(t.TempDir(), "http://media.test")
	require.NoError(t, err)

	svc := service.NewPropertyService(
		store.NewEntityStore(database),
		store.NewBuildingStore(database),
		store.NewRoomStore(database),
		store.NewMediaStore(database),
		blobs,
		ident.NewAllocator(),
		nil,
		cache.NewMemory(time.Minute),
		slog.Default(),
	)
	srv := httptest.NewServer(web.NewServer(svc, authn, slog.Default(), web.Options{
		CORSOrigin:     "http://app.test",
		MaxUploadBytes: 4096,
		ServeMedia:     true,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func operatorServer(t *testing.T) *httptest.Server {
	return newTestServer(t, auth.Static{Session: auth.Session{UserID: "op", Role: auth.RoleOperator}})
}

type image struct {
	name     string
	category string
	data     []byte
}

// buildMultipartBody creates a multipart/form-data body with a payload field
// and one images file per image.
func buildMultipartBody(t *testing.T, payload string, images ...image) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if payload != "" {
		require.NoError(t, w.WriteField("payload", payload))
	}
	for _, img := range images {
		fw, err := w.CreateFormFile("images", img.name)
		require.NoError(t, err)
		_, err = fw.Write(img.data)
		require.NoError(t, err)
	}
	for _, img := range images {
		require.NoError(t, w.WriteField("categories", img.category))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type workflowBody struct {
	CanonicalID string   `json:"canonical_id"`
	State       string   `json:"state"`
	References  []string `json:"references"`
	Assets      []struct {
		AssetID     string `json:"asset_id"`
		StoragePath string `json:"storage_path"`
		Category    string `json:"category"`
		SortOrder   int    `json:"sort_order"`
	} `json:"assets"`
	Retryable bool `json:"retryable"`
}

func allocate(t *testing.T, srv *httptest.Server, kind string) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/ids/"+kind, "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[map[string]string](t, resp)["temporary_id"]
}

func TestIntegration_Health(t *testing.T) {
	srv := newTestServer(t, denyAll{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestIntegration_Unauthenticated(t *testing.T) {
	srv := newTestServer(t, denyAll{})

	resp, err := http.Get(srv.URL + "/api/buildings")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, denyAll{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/buildings", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://app.test", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestIntegration_ViewerCannotCreate(t *testing.T) {
	srv := newTestServer(t, auth.Static{Session: auth.Session{UserID: "v", Role: auth.RoleViewer}})

	body, ct := buildMultipartBody(t, `{"building_name":"Nope"}`)
	resp, err := http.Post(srv.URL+"/api/buildings", ct, body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIntegration_CreateBuildingAndRoom(t *testing.T) {
	srv := operatorServer(t)

	bldTmp := allocate(t, srv, "buildings")
	body, ct := buildMultipartBody(t,
		`{"temporary_id":"`+bldTmp+`","building_name":"Maple","floors":3,"building_images":"https://legacy.test/a.jpg"}`,
		image{name: "front.jpg", category: "outside", data: minimalJPEG},
		image{name: "gym.jpg", category: "amenities", data: minimalJPEG},
	)
	resp, err := http.Post(srv.URL+"/api/buildings", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	bld := decode[workflowBody](t, resp)
	assert.Equal(t, "complete", bld.State)
	require.Len(t, bld.References, 3)
	assert.Equal(t, "https://legacy.test/a.jpg", bld.References[0])
	require.Len(t, bld.Assets, 2)
	assert.NotContains(t, bld.Assets[0].StoragePath, bldTmp)

	resp, err = http.Get(srv.URL + "/api/ids/" + bldTmp)
	require.NoError(t, err)
	assert.Equal(t, bld.CanonicalID, decode[map[string]string](t, resp)["canonical_id"])

	roomTmp := allocate(t, srv, "rooms")
	body, ct = buildMultipartBody(t,
		`{"temporary_id":"`+roomTmp+`","room_number":"101","building_id":"`+bldTmp+`"}`,
		image{name: "bed.jpg", data: minimalJPEG},
	)
	resp, err = http.Post(srv.URL+"/api/rooms", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	room := decode[workflowBody](t, resp)
	require.Len(t, room.Assets, 1)
	assert.Equal(t, "uncategorized", room.Assets[0].Category)

	resp, err = http.Get(srv.URL + "/api/rooms?building_id=" + bld.CanonicalID)
	require.NoError(t, err)
	rooms := decode[[]map[string]any](t, resp)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.CanonicalID, rooms[0]["room_id"])
	assert.Equal(t, "AVAILABLE", rooms[0]["status"])

	resp, err = http.Get(srv.URL + "/api/buildings/" + bldTmp)
	require.NoError(t, err)
	got := decode[map[string]any](t, resp)
	assert.Equal(t, "Maple", got["building_name"])
	assert.EqualValues(t, 3, got["floors"])

	resp, err = http.Get(srv.URL + "/media/" + bld.Assets[0].StoragePath)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, minimalJPEG, data)
}

func TestIntegration_RoomWithUnreconciledBuilding(t *testing.T) {
	srv := operatorServer(t)
	bldTmp := allocate(t, srv, "buildings")

	body, ct := buildMultipartBody(t, `{"room_number":"1","building_id":"`+bldTmp+`"}`)
	resp, err := http.Post(srv.URL+"/api/rooms", ct, body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_RejectsBadUploads(t *testing.T) {
	srv := operatorServer(t)

	tests := []struct {
		name    string
		payload string
		images  []image
	}{
		{name: "missing payload"},
		{name: "payload not an object", payload: `[1,2]`},
		{name: "not an image", payload: `{"building_name":"X"}`, images: []image{{name: "a.pdf", data: []byte("%PDF-1.4")}}},
		{name: "too large", payload: `{"building_name":"X"}`, images: []image{{name: "big.jpg", data: append(append([]byte{}, minimalJPEG...), make([]byte, 8192)...)}}},
		{name: "room category on building", payload: `{"building_name":"X"}`, images: []image{{name: "a.jpg", category: "uncategorized", data: minimalJPEG}}},
		{name: "unknown column", payload: `{"building_name":"X","owner":"me"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := buildMultipartBody(t, tt.payload, tt.images...)
			resp, err := http.Post(srv.URL+"/api/buildings", ct, body)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestIntegration_AttachReorderDeleteMedia(t *testing.T) {
	srv := operatorServer(t)

	body, ct := buildMultipartBody(t, `{"building_name":"Oak"}`, image{name: "a.jpg", category: "outside", data: minimalJPEG})
	resp, err := http.Post(srv.URL+"/api/buildings", ct, body)
	require.NoError(t, err)
	bld := decode[workflowBody](t, resp)

	body, ct = buildMultipartBody(t, "", image{name: "b.jpg", category: "common_areas", data: minimalJPEG})
	resp, err = http.Post(srv.URL+"/api/buildings/"+bld.CanonicalID+"/media", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attached := decode[workflowBody](t, resp)
	require.Len(t, attached.References, 2)
	assert.Equal(t, 1, attached.Assets[0].SortOrder)

	first := bld.Assets[0]
	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/media/"+first.AssetID, strings.NewReader(`{"sort_order":9}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/buildings/" + bld.CanonicalID + "/media")
	require.NoError(t, err)
	listed := decode[[]map[string]any](t, resp)
	require.Len(t, listed, 2)
	assert.Equal(t, first.AssetID, listed[1]["asset_id"])

	resp, err = http.Get(srv.URL + "/api/buildings/" + bld.CanonicalID)
	require.NoError(t, err)
	images := decode[map[string]any](t, resp)["building_images"].([]any)
	assert.Equal(t, attached.References[1], images[0])

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/media/"+first.AssetID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/media/" + first.StoragePath)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/buildings/"+bld.CanonicalID+"/media/finalize", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIntegration_DeleteBuilding(t *testing.T) {
	srv := operatorServer(t)

	body, ct := buildMultipartBody(t, `{"building_name":"Pine"}`, image{name: "a.jpg", category: "outside", data: minimalJPEG})
	resp, err := http.Post(srv.URL+"/api/buildings", ct, body)
	require.NoError(t, err)
	bld := decode[workflowBody](t, resp)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/buildings/"+bld.CanonicalID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/buildings/" + bld.CanonicalID)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/buildings")
	require.NoError(t, err)
	assert.Empty(t, decode[[]map[string]any](t, resp))
}
