package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"storyloom/pkg/queue"
	"storyloom/pkg/store"
	"storyloom/pkg/utils"
)

const defaultRunLimit = 50

// liveView renders an in-memory run in the ledger's shape.
func liveView(run *queue.Run) store.Run {
	last, status := run.Snapshot()
	view := store.Run{
		ID:          run.ID,
		StoryID:     run.StoryID,
		Status:      status,
		CurrentStep: last.Current,
		TotalSteps:  last.Total,
		StepLabel:   last.Step,
		UpdatedAt:   last.Time,
	}
	if status.Terminal() {
		if err := run.Err(); err != nil {
			view.Error = err.Error()
		}
	}
	return view
}

// lookupRun prefers the live run, then a cached finished view, then the
// ledger.
func (s *Server) lookupRun(c echo.Context, id string) (store.Run, bool, error) {
	if run, ok := s.Queue.Get(id); ok {
		view := liveView(run)
		if view.Status.Terminal() {
			s.snapshots.Set(id, view, cache.DefaultExpiration)
		}
		return view, true, nil
	}
	if v, ok := s.snapshots.Get(id); ok {
		return v.(store.Run), true, nil
	}
	if s.Ledger == nil {
		return store.Run{}, false, nil
	}
	run, err := s.Ledger.Get(c.Request().Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		return store.Run{}, false, nil
	}
	if err != nil {
		return store.Run{}, false, err
	}
	if run.Status.Terminal() {
		s.snapshots.Set(id, *run, cache.DefaultExpiration)
	}
	return *run, true, nil
}

// GET /api/runs
func (s *Server) handleListRuns(c echo.Context) error {
	if s.Ledger == nil {
		active := s.Queue.Active()
		out := make([]store.Run, 0, len(active))
		for _, r := range active {
			out = append(out, liveView(r))
		}
		return c.JSON(http.StatusOK, out)
	}

	limit := defaultRunLimit
	if q := c.QueryParam("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, utils.ErrJSON("invalid limit"))
		}
		limit = n
	}
	runs, err := s.Ledger.List(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed listing runs"))
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GET /api/runs/:id
func (s *Server) handleGetRun(c echo.Context) error {
	view, found, err := s.lookupRun(c, c.Param("id"))
	if err != nil {
		s.logger.Error("get run", "id", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed reading run"))
	}
	if !found {
		return c.JSON(http.StatusNotFound, utils.ErrJSON("run not found"))
	}
	return c.JSON(http.StatusOK, view)
}

// GET /api/runs/:id/events streams the run's events, replaying what already
// happened. A run no longer in memory gets a single state event.
func (s *Server) handleRunEvents(c echo.Context) error {
	id := c.Param("id")
	run, live := s.Queue.Get(id)
	if !live {
		view, found, err := s.lookupRun(c, id)
		if err != nil {
			s.logger.Error("get run", "id", id, "error", err)
			return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed reading run"))
		}
		if !found {
			return c.JSON(http.StatusNotFound, utils.ErrJSON("run not found"))
		}
		w, err := utils.NewSSEWriter(c)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, utils.ErrJSON(err.Error()))
		}
		defer w.Close()
		return w.Event(string(queue.EventState), queue.Event{
			Type:   queue.EventState,
			RunID:  view.ID,
			Status: view.Status,
			Error:  view.Error,
			Time:   view.UpdatedAt,
		})
	}

	events, unsubscribe := run.Subscribe()
	defer unsubscribe()

	w, err := utils.NewSSEWriter(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON(err.Error()))
	}
	defer w.Close()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.Event(string(ev.Type), ev); err != nil {
				s.logger.Warn("SSE write error", "run", id, "error", err)
				return nil
			}
		}
	}
}

// DELETE /api/runs/:id
func (s *Server) handleCancelRun(c echo.Context) error {
	id := c.Param("id")
	if s.Queue.Cancel(id) {
		return c.JSON(http.StatusAccepted, map[string]any{"success": true, "id": id})
	}
	view, found, err := s.lookupRun(c, id)
	if err != nil {
		s.logger.Error("get run", "id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed reading run"))
	}
	if !found {
		return c.JSON(http.StatusNotFound, utils.ErrJSON("run not found"))
	}
	return c.JSON(http.StatusConflict, utils.ErrJSON("run already "+string(view.Status)))
}
