package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"storyloom/pkg/queue"
	"storyloom/pkg/schema"
	"storyloom/pkg/utils"
)

type runReq struct {
	StoryID        string   `json:"story_id"`
	Prompt         string   `json:"prompt"`
	Transcriptions []string `json:"transcriptions"`
	Title          string   `json:"title"`
	Language       string   `json:"language"`
	SegmentPaths   []string `json:"segment_paths"`
}

func (r runReq) empty() bool {
	if strings.TrimSpace(r.Prompt) != "" {
		return false
	}
	for _, t := range r.Transcriptions {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}

// POST /api/runs
func (s *Server) handlePostRun(c echo.Context) error {
	var req runReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, utils.ErrJSON("invalid json"))
	}
	if req.empty() {
		return c.JSON(http.StatusBadRequest, utils.ErrJSON("prompt or transcriptions required"))
	}

	segments := make([]string, 0, len(req.SegmentPaths))
	for _, p := range req.SegmentPaths {
		resolved, err := utils.WithinDir(s.SegmentDir, p)
		if err != nil {
			s.logger.Warn("segment path rejected", "path", p, "error", err)
			return c.JSON(http.StatusBadRequest, utils.ErrJSON("segment paths must be inside the segments directory"))
		}
		segments = append(segments, resolved)
	}

	payload := &schema.Payload{
		StoryID:        strings.TrimSpace(req.StoryID),
		Prompt:         strings.TrimSpace(req.Prompt),
		Transcriptions: req.Transcriptions,
		UserTitle:      strings.TrimSpace(req.Title),
		Timestamp:      time.Now(),
		SegmentPaths:   segments,
		Language:       strings.TrimSpace(req.Language),
	}
	run, err := s.Queue.Add(payload)
	switch {
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrStopped):
		return c.JSON(http.StatusServiceUnavailable, utils.ErrJSON(err.Error()))
	case err != nil:
		s.logger.Error("queue run", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed queueing run"))
	}
	return c.JSON(http.StatusAccepted, liveView(run))
}
