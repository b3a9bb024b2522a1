package server

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"

	"storyloom/pkg/export"
	"storyloom/pkg/utils"
)

func (s *Server) handleGetRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"service": "storyloom",
		"status":  "ok",
		"active":  len(s.Queue.Active()),
	})
}

type storySummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Timestamp    time.Time `json:"timestamp"`
	Language     string    `json:"language,omitempty"`
	Processed    bool      `json:"processed"`
	Characters   int       `json:"characters"`
	Environments int       `json:"environments"`
	Scenes       int       `json:"scenes"`
}

// GET /api/stories
func (s *Server) handleListStories(c echo.Context) error {
	stories, err := s.Stories.List()
	if err != nil {
		s.logger.Error("list stories", "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed reading stories"))
	}
	out := make([]storySummary, 0, len(stories))
	for _, st := range stories {
		out = append(out, storySummary{
			ID:           st.ID,
			Title:        st.Title,
			Timestamp:    st.Timestamp,
			Language:     st.Language,
			Processed:    st.Processed,
			Characters:   len(st.Characters),
			Environments: len(st.Environments),
			Scenes:       len(st.Scenes),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// GET /api/stories/:id
func (s *Server) handleGetStory(c echo.Context) error {
	story, found, err := s.Stories.Get(c.Param("id"))
	if err != nil {
		s.logger.Error("get story", "id", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed reading story"))
	}
	if !found {
		return c.JSON(http.StatusNotFound, utils.ErrJSON("story not found"))
	}
	return c.JSON(http.StatusOK, story)
}

// GET /api/stories/:id/export
func (s *Server) handleExportStory(c echo.Context) error {
	story, found, err := s.Stories.Get(c.Param("id"))
	if err != nil {
		s.logger.Error("get story", "id", c.Param("id"), "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed reading story"))
	}
	if !found {
		return c.JSON(http.StatusNotFound, utils.ErrJSON("story not found"))
	}
	story.Segments = s.confineSegments(story.Segments)
	path, err := export.ToFile(s.ExportDir, story)
	if err != nil {
		s.logger.Error("export story", "id", story.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, utils.ErrJSON("failed exporting story"))
	}
	s.logger.Info("story exported", "id", story.ID, "path", path)
	return c.Attachment(path, filepath.Base(path))
}

// confineSegments drops segment paths outside SegmentDir so the archive never
// picks up files the API could not have been given.
func (s *Server) confineSegments(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := utils.WithinDir(s.SegmentDir, p); err != nil {
			s.logger.Warn("segment left out of export", "path", p, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
