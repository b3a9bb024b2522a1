package pipeline

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"storyloom/pkg/config"
	"storyloom/pkg/diff"
	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
	"storyloom/pkg/title"
)

// StoryStore is where finalized records go.
type StoryStore interface {
	Get(id string) (schema.Story, bool, error)
	Upsert(story schema.Story) error
}

// Finalizer turns a run's context into a persisted story record.
type Finalizer struct {
	store        StoryStore
	keepSegments bool
	logger       *log.Logger
	now          func() time.Time

	// OnDiff, when set, receives the changes against an existing record.
	OnDiff func(diff.StoryDiff)
}

func NewFinalizer(store StoryStore, cfg config.PipelineConfig, logger *log.Logger) *Finalizer {
	return &Finalizer{
		store:        store,
		keepSegments: cfg.KeepSegments,
		logger:       logging.Or(logger).WithPrefix("finalize"),
		now:          time.Now,
	}
}

// For binds the finalizer to the payload that started the run.
func (f *Finalizer) For(payload *schema.Payload) FinalizeFunc {
	return func(ctx context.Context, pc *schema.ProcessingContext, runErr error) error {
		_, err := f.Finalize(ctx, payload, pc, runErr)
		return err
	}
}

// Finalize writes the record for payload. A story counts as processed only
// when stitching produced text; only then are the segment files removed
// (unless configured to keep them). An existing record is updated in place
// and keeps its timestamp; its language and story texts survive when the
// run produced none.
func (f *Finalizer) Finalize(_ context.Context, payload *schema.Payload, pc *schema.ProcessingContext, runErr error) (schema.Story, error) {
	existing, found, err := f.store.Get(payload.StoryID)
	if err != nil {
		return schema.Story{}, err
	}

	ts := payload.Timestamp
	if found && !existing.Timestamp.IsZero() {
		ts = existing.Timestamp
	}
	if ts.IsZero() {
		ts = f.now()
	}

	record := schema.StoryFromContext(pc)
	record.ID = payload.StoryID
	record.Timestamp = ts
	record.Title = title.Resolve(payload.UserTitle, pc.TitleEnglish, pc.TitleLocalized, ts)
	record.Processed = pc.HasStory()

	record.Segments = append([]string{}, payload.SegmentPaths...)
	if record.Processed && !f.keepSegments {
		f.removeSegments(payload.SegmentPaths)
		record.Segments = []string{}
	}

	if found {
		record.Language = cmp.Or(record.Language, existing.Language)
		record.StoryOriginal = cmp.Or(record.StoryOriginal, existing.StoryOriginal)
		record.StoryEnglish = cmp.Or(record.StoryEnglish, existing.StoryEnglish)
		record.TitleEnglish = cmp.Or(record.TitleEnglish, existing.TitleEnglish)

		d := diff.Stories(existing, record)
		added, removed, modified := d.Counts()
		f.logger.Info("story updated", "id", record.ID, "added", added, "removed", removed, "modified", modified, "fields", len(d.Fields))
		if f.OnDiff != nil && !d.Empty() {
			f.OnDiff(d)
		}
	}

	if err := f.store.Upsert(record); err != nil {
		return record, err
	}
	f.logger.Info("story saved",
		"id", record.ID,
		"title", record.Title,
		"processed", record.Processed,
		"characters", len(record.Characters),
		"environments", len(record.Environments),
		"scenes", len(record.Scenes),
		"run_error", runErr,
	)
	return record, nil
}

func (f *Finalizer) removeSegments(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("remove segment", "path", p, "error", err)
		}
	}
}
