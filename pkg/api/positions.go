package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
	"github.com/matzehuels/testmap/pkg/positions"
)

// BulkRequest is the body of POST /node-positions/bulk.
type BulkRequest struct {
	ProjectID domain.ID            `json:"project_id"`
	Positions []positions.Override `json:"positions"`
}

// BulkResponse reports a bulk save.
type BulkResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// SweepResponse reports a sweep of orphaned rows.
type SweepResponse struct {
	Removed int `json:"removed"`
}

func projectParam(r *http.Request) (domain.ID, error) {
	raw := chi.URLParam(r, "projectID")
	id, err := domain.ParseID(raw)
	if err != nil || id.IsZero() {
		return "", errs.New(errs.ErrCodeInvalidID, "invalid project id %q", raw)
	}
	return id, nil
}

func nodeParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "nodeID")
	if err := errs.ValidateNodeID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	pid, err := projectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.repo.ListByProject(r.Context(), pid)
	if err != nil {
		s.logger.Error("list positions failed", "project", pid, "err", err)
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []positions.Override{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleBulkSave(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ProjectID.IsZero() {
		writeError(w, errs.New(errs.ErrCodeInvalidID, "project_id is required"))
		return
	}
	for i := range req.Positions {
		if err := errs.ValidateNodeID(req.Positions[i].NodeID); err != nil {
			writeError(w, err)
			return
		}
		req.Positions[i].ProjectID = req.ProjectID
	}
	if err := s.repo.BulkUpsert(r.Context(), req.ProjectID, req.Positions); err != nil {
		s.logger.Error("bulk save failed", "project", req.ProjectID, "count", len(req.Positions), "err", err)
		writeError(w, err)
		return
	}
	s.invalidateDiagram(r.Context(), req.ProjectID)
	writeJSON(w, http.StatusOK, BulkResponse{Success: true, Count: len(req.Positions)})
}

func (s *Server) handleSavePosition(w http.ResponseWriter, r *http.Request) {
	pid, err := projectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	nodeID, err := nodeParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var o positions.Override
	if err := decodeJSON(r, &o); err != nil {
		writeError(w, err)
		return
	}
	o.ProjectID, o.NodeID = pid, nodeID
	if err := s.repo.BulkUpsert(r.Context(), pid, []positions.Override{o}); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateDiagram(r.Context(), pid)

	rows, err := s.repo.ListByProject(r.Context(), pid)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, row := range rows {
		if row.NodeID == nodeID {
			writeJSON(w, http.StatusOK, row)
			return
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeletePosition(w http.ResponseWriter, r *http.Request) {
	pid, err := projectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	nodeID, err := nodeParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.repo.Delete(r.Context(), pid, nodeID); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateDiagram(r.Context(), pid)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteProjectPositions(w http.ResponseWriter, r *http.Request) {
	pid, err := projectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.repo.DeleteProject(r.Context(), pid); err != nil {
		writeError(w, err)
		return
	}
	s.invalidateDiagram(r.Context(), pid)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateDiagram(ctx context.Context, pid domain.ID) {
	if err := cache.Invalidate(ctx, s.cache, s.keyer.DiagramKey(pid.String(), s.layout)); err != nil {
		s.logger.Debug("diagram cache invalidate failed", "project", pid, "err", err)
	}
}
