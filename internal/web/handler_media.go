package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/service"
	"github.com/vbonduro/homewiz/internal/upload"
)

const (
	maxImagesPerRequest = 20
	maxFormMemory       = 32 << 20
)

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the WHATWG sniffing algorithm (and
// therefore the stdlib) does not include a WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

type failureResponse struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type workflowResponse struct {
	Kind        domain.EntityKind   `json:"kind"`
	TemporaryID string              `json:"temporary_id,omitempty"`
	CanonicalID string              `json:"canonical_id"`
	State       upload.State        `json:"state"`
	References  []string            `json:"references"`
	Assets      []domain.MediaAsset `json:"assets"`
	Failures    []failureResponse   `json:"failures"`
	Retryable   bool                `json:"retryable"`
	Error       string              `json:"error,omitempty"`
}

func newWorkflowResponse(res *upload.Result) workflowResponse {
	out := workflowResponse{
		Kind:        res.Kind,
		TemporaryID: res.TemporaryID,
		CanonicalID: res.CanonicalID,
		State:       res.State,
		References:  res.References,
		Assets:      res.Assets,
		Failures:    make([]failureResponse, 0, len(res.Failures)),
	}
	if out.Assets == nil {
		out.Assets = []domain.MediaAsset{}
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, failureResponse{Index: f.Index, Filename: f.Filename, Error: f.Err.Error()})
	}
	return out
}

// respondWorkflow writes a workflow result. A failed finalization is reported
// as accepted: the entity and its assets exist and the link can be retried.
func (s *Server) respondWorkflow(w http.ResponseWriter, r *http.Request, res *upload.Result, err error, okStatus int) {
	switch {
	case err == nil:
		writeJSON(w, okStatus, newWorkflowResponse(res), s.logger)
	case errors.Is(err, upload.ErrFinalizationFailed) && res != nil:
		out := newWorkflowResponse(res)
		out.Retryable = true
		out.Error = "uploaded images could not be linked; retry finalization"
		s.logger.Warn("workflow finalization failed", "kind", res.Kind, "id", res.CanonicalID, "error", err)
		writeJSON(w, http.StatusAccepted, out, s.logger)
	default:
		s.writeError(w, r, err)
	}
}

type createFn func(ctx context.Context, sess auth.Session, req service.CreateRequest, uploads []service.Upload) (*upload.Result, error)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, create createFn) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.CanWrite() {
		s.writeError(w, r, service.ErrForbidden)
		return
	}
	form, err := s.parseForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := parsePayload(form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	uploads, err := s.readUploads(form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := create(r.Context(), sess, req, uploads)
	s.respondWorkflow(w, r, res, err, http.StatusCreated)
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind, ok := domain.ParseEntityKind(r.PathValue("kind"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	assets, err := s.service.ListMedia(r.Context(), sess, kind, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*domain.MediaAsset{}
	}
	writeJSON(w, http.StatusOK, assets, s.logger)
}

func (s *Server) handleAttachMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind, ok := domain.ParseEntityKind(r.PathValue("kind"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !sess.CanWrite() {
		s.writeError(w, r, service.ErrForbidden)
		return
	}
	form, err := s.parseForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	uploads, err := s.readUploads(form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.service.AttachMedia(r.Context(), sess, kind, r.PathValue("id"), uploads)
	s.respondWorkflow(w, r, res, err, http.StatusOK)
}

func (s *Server) handleRetryFinalize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind, ok := domain.ParseEntityKind(r.PathValue("kind"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	res, err := s.service.RetryFinalize(r.Context(), sess, kind, r.PathValue("id"))
	s.respondWorkflow(w, r, res, err, http.StatusOK)
}

type reorderRequest struct {
	SortOrder *int `json:"sort_order"`
}

func (s *Server) handleReorderMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req reorderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.SortOrder == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sort_order is required"}, s.logger)
		return
	}
	asset, err := s.service.ReorderMedia(r.Context(), sess, r.PathValue("assetID"), *req.SortOrder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset, s.logger)
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteMedia(r.Context(), sess, r.PathValue("assetID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	reader, mimeType, err := s.service.OpenMedia(r.Context(), r.PathValue("path"))
	if err != nil {
		if errorStatus(err) == http.StatusInternalServerError {
			s.logger.Error("open media failed", "path", r.PathValue("path"), "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "media reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write media failed", "path", r.PathValue("path"), "error", err)
	}
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	limit := s.opts.MaxUploadBytes*maxImagesPerRequest + maxFormMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return nil, fmt.Errorf("%w: failed to parse form: %v", service.ErrInvalid, err)
	}
	return r.MultipartForm, nil
}

// parsePayload decodes the JSON record fields. Numbers stay json.Number so
// integer columns are not rounded through float64.
func parsePayload(form *multipart.Form) (service.CreateRequest, error) {
	var req service.CreateRequest
	raw := ""
	if v := form.Value["payload"]; len(v) > 0 {
		raw = strings.TrimSpace(v[0])
	}
	if raw == "" {
		return req, fmt.Errorf("%w: payload is required", service.ErrInvalid)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	fields := domain.Fields{}
	if err := dec.Decode(&fields); err != nil {
		return req, fmt.Errorf("%w: payload is not a JSON object: %v", service.ErrInvalid, err)
	}
	if v, ok := fields["temporary_id"]; ok {
		id, isString := v.(string)
		if !isString {
			return req, fmt.Errorf("%w: temporary_id must be a string", service.ErrInvalid)
		}
		req.TemporaryID = id
		delete(fields, "temporary_id")
	}
	req.Fields = fields
	return req, nil
}

// readUploads reads the images files and their optional parallel categories.
func (s *Server) readUploads(form *multipart.Form) ([]service.Upload, error) {
	files := form.File["images"]
	if len(files) > maxImagesPerRequest {
		return nil, fmt.Errorf("%w: at most %d images per request", service.ErrInvalid, maxImagesPerRequest)
	}
	categories := form.Value["categories"]

	uploads := make([]service.Upload, 0, len(files))
	for i, fh := range files {
		if fh.Size > s.opts.MaxUploadBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", service.ErrInvalid, fh.Filename, s.opts.MaxUploadBytes)
		}
		data, err := readPart(fh, s.opts.MaxUploadBytes)
		if err != nil {
			return nil, err
		}
		mimeType, ok := allowedImageMIME(data)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a supported image format", service.ErrInvalid, fh.Filename)
		}
		u := service.Upload{Filename: fh.Filename, ContentType: mimeType, Data: data}
		if i < len(categories) {
			u.Category = categories[i]
		}
		uploads = append(uploads, u)
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", service.ErrInvalid, fh.Filename, limit)
	}
	return data, nil
}
