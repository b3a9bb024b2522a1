package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/webp"
	"golang.org/x/sync/errgroup"

	"storyloom/pkg/flight"
	"storyloom/pkg/logging"
	"storyloom/pkg/utils"
)

type GeneratorOptions struct {
	Backend Backend
	// Dir holds one subdirectory per run id.
	Dir         string
	WebP        bool
	Concurrency int
	Logger      *log.Logger
}

// Job is one image to generate. Name prefixes the file name.
type Job struct {
	Name   string
	Prompt string
}

type jobKey struct {
	runID  string
	name   string
	prompt string
}

func (k jobKey) base() string { return k.name + "-" + promptHash(k.prompt) }

// Generator persists backend images under <dir>/<run id>/. An identical
// prompt reuses the existing file, and concurrent identical jobs share one
// backend call.
type Generator struct {
	backend     Backend
	dir         string
	webp        bool
	concurrency int
	logger      *log.Logger
	cache       flight.Cache[jobKey, string]
}

func NewGenerator(opts GeneratorOptions) *Generator {
	g := &Generator{
		backend:     opts.Backend,
		dir:         opts.Dir,
		webp:        opts.WebP,
		concurrency: opts.Concurrency,
		logger:      logging.Or(opts.Logger).WithPrefix("images"),
	}
	if g.concurrency <= 0 {
		g.concurrency = 1
	}
	g.cache = flight.NewCache(g.work)
	g.cache.Expiry(10 * time.Minute)
	return g
}

// Generate produces the image for job and returns its path.
func (g *Generator) Generate(ctx context.Context, runID string, job Job) (string, error) {
	key := jobKey{runID: utils.SanitizeFilename(runID), name: utils.SanitizeFilename(job.Name), prompt: job.Prompt}
	if path, ok := g.existing(key); ok {
		g.logger.Debug("image reused", "path", path)
		return path, nil
	}
	path, err := g.cache.Get(ctx, key)
	if err == nil && !utils.Exists(path) {
		// remembered file was removed from disk
		g.cache.Forget(key)
		return g.cache.Get(ctx, key)
	}
	return path, err
}

// GenerateAll runs jobs concurrently and returns one path per job, empty
// where generation failed. Failures never stop sibling jobs; only a context
// error is returned.
func (g *Generator) GenerateAll(ctx context.Context, runID string, jobs []Job) ([]string, error) {
	paths := make([]string, len(jobs))
	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, job := range jobs {
		eg.Go(func() error {
			path, err := g.Generate(ctx, runID, job)
			if err != nil {
				g.logger.Warn("image generation failed", "job", job.Name, "error", err)
				return nil
			}
			paths[i] = path
			return nil
		})
	}
	_ = eg.Wait()
	g.logger.Debug("image batch done", "run", runID, "jobs", len(jobs), "remembered", g.cache.Len())
	return paths, ctx.Err()
}

func (g *Generator) work(ctx context.Context, key jobKey) (string, error) {
	img, err := g.backend.Generate(ctx, key.prompt)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(g.dir, key.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	data, ext := img.Data, img.Ext()
	if g.webp {
		encoded, err := toWebP(img.Data)
		if err != nil {
			g.logger.Warn("webp conversion failed, keeping original", "job", key.name, "error", err)
		} else {
			data, ext = encoded, "webp"
		}
	}

	path := filepath.Join(dir, key.base()+"."+ext)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write image %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write image %s: %w", path, err)
	}
	g.logger.Info("image saved", "path", path, "bytes", len(data))
	return path, nil
}

func (g *Generator) existing(key jobKey) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(g.dir, key.runID, key.base()+".*"))
	for _, m := range matches {
		if filepath.Ext(m) == ".tmp" {
			continue
		}
		return m, true
	}
	return "", false
}

func promptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// toWebP re-encodes PNG (or any registered format) data as WebP.
func toWebP(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		var err2 error
		img, _, err2 = image.Decode(bytes.NewReader(data))
		if err2 != nil {
			return nil, fmt.Errorf("failed to decode image (png: %v, generic: %v)", err, err2)
		}
	}
	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, webp.Options{Lossless: false, Quality: 100}); err != nil {
		return nil, fmt.Errorf("failed to encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
