package web

import (
	"net/http"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/domain"
)

// session returns the caller's session. Middleware guarantees one on /api routes.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	sess, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, auth.ErrUnauthenticated)
	}
	return sess, ok
}

func (s *Server) handleAllocateID(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	kind, ok := domain.ParseEntityKind(r.PathValue("kind"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown kind"}, s.logger)
		return
	}
	id, err := s.service.AllocateTemporaryID(r.Context(), sess, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"temporary_id": id}, s.logger)
}

func (s *Server) handleResolveID(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	canonical, err := s.service.ResolveID(r.Context(), sess, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "canonical_id": canonical}, s.logger)
}

func (s *Server) handleListBuildings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	buildings, err := s.service.ListBuildings(r.Context(), sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildings, s.logger)
}

func (s *Server) handleGetBuilding(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	b, err := s.service.GetBuilding(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b, s.logger)
}

func (s *Server) handleCreateBuilding(w http.ResponseWriter, r *http.Request) {
	s.handleCreate(w, r, s.service.CreateBuilding)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	s.handleCreate(w, r, s.service.CreateRoom)
}

func (s *Server) handleDeleteBuilding(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteBuilding(r.Context(), sess, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rooms, err := s.service.ListRooms(r.Context(), sess, r.URL.Query().Get("building_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms, s.logger)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	room, err := s.service.GetRoom(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room, s.logger)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteRoom(r.Context(), sess, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
