// Package export packs a story record and the files it references into a
// shareable zip archive.
package export

import (
	"archive/zip"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyloom/pkg/schema"
	"storyloom/pkg/utils"
)

type segmentMeta struct {
	SourcePath string `json:"source_path"`
	File       string `json:"file,omitempty"`
}

type assetMeta struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	NameEnglish        string `json:"name_english,omitempty"`
	DescriptionEnglish string `json:"description_english,omitempty"`
	Image              string `json:"image,omitempty"`
}

type sceneMeta struct {
	CaptionOriginal string   `json:"caption_original"`
	CaptionEnglish  string   `json:"caption_english"`
	Environment     string   `json:"environment,omitempty"`
	EnvironmentName string   `json:"environment_name,omitempty"`
	Characters      []string `json:"characters,omitempty"`
	Image           string   `json:"image,omitempty"`
}

// Metadata is the content of metadata.json. Image and file fields hold
// archive entry names, not filesystem paths.
type Metadata struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Timestamp     time.Time     `json:"timestamp"`
	Language      string        `json:"language,omitempty"`
	Processed     bool          `json:"processed"`
	StoryOriginal string        `json:"story_original,omitempty"`
	StoryEnglish  string        `json:"story_english,omitempty"`
	Content       string        `json:"content,omitempty"`
	ContextTags   []string      `json:"context_tags,omitempty"`
	Segments      []segmentMeta `json:"segments,omitempty"`
	Characters    []assetMeta   `json:"characters"`
	Environments  []assetMeta   `json:"environments"`
	Scenes        []sceneMeta   `json:"scenes"`
}

type attachment struct {
	path  string
	entry string
}

// FileName is the archive name for story: "<id>-<slug>.zip".
func FileName(story schema.Story) string {
	return fmt.Sprintf("%s-%s.zip", story.ID, cmp.Or(utils.Slug(story.Title), "story"))
}

// ToFile writes the archive for story into dir and returns its path. An
// existing archive of the same name is replaced.
func ToFile(dir string, story schema.Story) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(story))
	tmp, err := os.CreateTemp(dir, ".export-*.zip")
	if err != nil {
		return "", err
	}
	if err := Write(tmp, story); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// Write streams the archive for story to w. Referenced files that no longer
// exist are left out of both the archive and the metadata.
func Write(w io.Writer, story schema.Story) error {
	meta, attachments := buildMetadata(story)

	zw := zip.NewWriter(w)
	if original := story.StoryOriginal; strings.TrimSpace(original) != "" {
		if err := writeEntry(zw, "text/story_original.txt", []byte(original)); err != nil {
			return err
		}
	}
	if english := story.StoryEnglish; strings.TrimSpace(english) != "" && english != story.StoryOriginal {
		if err := writeEntry(zw, "text/story_english.txt", []byte(english)); err != nil {
			return err
		}
	}

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(zw, "metadata.json", b); err != nil {
		return err
	}

	for _, a := range attachments {
		if err := copyEntry(zw, a); err != nil {
			return fmt.Errorf("add %s: %w", a.entry, err)
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

func copyEntry(zw *zip.Writer, a attachment) error {
	src, err := os.Open(a.path)
	if err != nil {
		return err
	}
	defer src.Close()
	f, err := zw.Create(a.entry)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, src)
	return err
}

func buildMetadata(story schema.Story) (Metadata, []attachment) {
	meta := Metadata{
		ID:            story.ID,
		Title:         story.Title,
		Timestamp:     story.Timestamp,
		Language:      story.Language,
		Processed:     story.Processed,
		StoryOriginal: story.StoryOriginal,
		StoryEnglish:  story.StoryEnglish,
		ContextTags:   story.ContextTags,
		Characters:    []assetMeta{},
		Environments:  []assetMeta{},
		Scenes:        []sceneMeta{},
	}
	if strings.TrimSpace(story.Content) != "" {
		meta.Content = story.Content
	}

	var attachments []attachment
	attach := func(path, entry string) string {
		attachments = append(attachments, attachment{path: path, entry: entry})
		return entry
	}

	for i, p := range story.Segments {
		seg := segmentMeta{SourcePath: p}
		if utils.Exists(p) {
			seg.File = attach(p, fmt.Sprintf("audio/segment_%d.%s", i, extension(p, "wav")))
		}
		meta.Segments = append(meta.Segments, seg)
	}

	assets := func(list []schema.Asset, category string) []assetMeta {
		out := make([]assetMeta, 0, len(list))
		for i, a := range list {
			m := assetMeta{
				Name:               a.Name,
				Description:        a.Description,
				NameEnglish:        a.NameEnglish,
				DescriptionEnglish: a.DescriptionEnglish,
			}
			if a.Image != "" && utils.Exists(a.Image) {
				m.Image = attach(a.Image, imageEntry(category, i, a.DisplayName(), a.Image))
			}
			out = append(out, m)
		}
		return out
	}
	meta.Characters = assets(story.Characters, "characters")
	meta.Environments = assets(story.Environments, "environments")

	for i, s := range story.Scenes {
		m := sceneMeta{
			CaptionOriginal: s.CaptionOriginal,
			CaptionEnglish:  s.CaptionEnglish,
			Environment:     s.Environment,
			EnvironmentName: s.EnvironmentName,
			Characters:      s.Characters,
		}
		if s.Image != "" && utils.Exists(s.Image) {
			m.Image = attach(s.Image, imageEntry("scenes", i, s.DisplayCaptionEnglish(), s.Image))
		}
		meta.Scenes = append(meta.Scenes, m)
	}
	return meta, attachments
}

// imageEntry names an image "images/<category>/<n>-<slug>.<ext>" with n
// counted from one.
func imageEntry(category string, index int, name, path string) string {
	slug := cmp.Or(utils.Slug(name), fmt.Sprintf("%s-%d", category, index))
	return fmt.Sprintf("images/%s/%d-%s.%s", category, index+1, slug, extension(path, "png"))
}

func extension(path, fallback string) string {
	return cmp.Or(strings.TrimPrefix(filepath.Ext(path), "."), fallback)
}
