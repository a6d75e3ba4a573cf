package api

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/testmap/pkg/cache"
	"github.com/matzehuels/testmap/pkg/diagram"
	"github.com/matzehuels/testmap/pkg/domain"
	errs "github.com/matzehuels/testmap/pkg/errors"
)

func (s *Server) loadInput(ctx context.Context, pid domain.ID) (diagram.Input, error) {
	if s.src.Projects == nil || s.src.Features == nil || s.src.Tests == nil {
		return diagram.Input{}, errs.New(errs.ErrCodeUnsupported, "this server has no project source")
	}
	var in diagram.Input
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Project, err = s.src.Projects.GetProject(gctx, pid)
		return err
	})
	g.Go(func() (err error) {
		in.Forest, err = s.src.Features.TreeByProject(gctx, pid)
		return err
	})
	g.Go(func() (err error) {
		in.Tests, err = s.src.Tests.ListAll(gctx)
		return err
	})
	return in, g.Wait()
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	pid, err := projectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	key := s.keyer.DiagramKey(pid.String(), s.layout)

	body, ok, err := s.cache.Get(ctx, key)
	if err != nil || !ok {
		body, err = s.renderDiagram(ctx, pid)
		if err != nil {
			s.logger.Warn("diagram failed", "project", pid, "err", err)
			writeError(w, err)
			return
		}
		if err := s.cache.Set(ctx, key, body, s.ttl); err != nil {
			s.logger.Debug("diagram cache write failed", "project", pid, "err", err)
		}
	}

	etag := cache.ETag(body)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) renderDiagram(ctx context.Context, pid domain.ID) ([]byte, error) {
	in, err := s.loadInput(ctx, pid)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByProject(ctx, pid)
	if err != nil {
		return nil, err
	}
	overrides := make(diagram.Overrides, len(rows))
	for _, o := range rows {
		overrides[o.NodeID] = o.Position()
	}
	d := diagram.Layout(in, overrides, s.layout)
	return json.Marshal(d)
}

// handleSweep deletes stored positions whose node no longer exists in the
// project's diagram.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	pid, err := projectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	in, err := s.loadInput(r.Context(), pid)
	if err != nil {
		writeError(w, err)
		return
	}
	live := diagram.Layout(in, nil, s.layout).NodeIDs()
	keep := make([]string, 0, len(live))
	for id := range live {
		keep = append(keep, id)
	}
	n, err := s.repo.Prune(r.Context(), pid, keep)
	if err != nil {
		writeError(w, err)
		return
	}
	s.invalidateDiagram(r.Context(), pid)
	s.logger.Info("swept orphaned positions", "project", pid, "removed", n)
	writeJSON(w, http.StatusOK, SweepResponse{Removed: n})
}

// Invalidate drops the cached diagram of a project, for callers that change
// the project source behind the server's back.
func (s *Server) Invalidate(ctx context.Context, projectID domain.ID) {
	s.invalidateDiagram(ctx, projectID)
}
