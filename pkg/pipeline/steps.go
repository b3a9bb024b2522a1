package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"storyloom/pkg/assets"
	"storyloom/pkg/config"
	"storyloom/pkg/images"
	"storyloom/pkg/inference"
	"storyloom/pkg/language"
	"storyloom/pkg/logging"
	"storyloom/pkg/scenes"
	"storyloom/pkg/schema"
	"storyloom/pkg/story"
)

// ImageGenerator turns prompts into image files for a run.
type ImageGenerator interface {
	GenerateAll(ctx context.Context, runID string, jobs []images.Job) ([]string, error)
}

// Deps are the collaborators the steps call into.
type Deps struct {
	Stitcher  *story.Stitcher
	Extractor *assets.Extractor
	Localizer *assets.Localizer
	Builder   *scenes.Builder
	Resolver  *scenes.Resolver
	// Images may be nil when no image step is enabled.
	Images ImageGenerator
	Logger *log.Logger
}

// NewDeps wires every text component to one inferencer.
func NewDeps(inf inference.Inferencer, gen ImageGenerator, cfg config.PipelineConfig, logger *log.Logger) Deps {
	structured := cfg.StructuredOutputs
	extractor := assets.NewExtractor(inf, structured, logger)
	localizer := assets.NewLocalizer(inf, structured, logger)
	return Deps{
		Stitcher:  story.NewStitcher(inf, structured, logger),
		Extractor: extractor,
		Localizer: localizer,
		Builder:   scenes.NewBuilder(inf, structured, logger),
		Resolver:  scenes.NewResolver(extractor, localizer, logger),
		Images:    gen,
		Logger:    logger,
	}
}

// BuildSteps composes the steps for one run. Image steps are included only
// when enabled and an image generator is available.
func BuildSteps(deps Deps, cfg config.PipelineConfig) []Step {
	logger := logging.Or(deps.Logger).WithPrefix("steps")
	steps := []Step{
		&stitchStep{deps: deps, cfg: cfg, logger: logger},
		&characterStep{deps: deps, logger: logger},
	}
	haveImages := deps.Images != nil
	if cfg.CharacterImages && haveImages {
		steps = append(steps, &characterImageStep{gen: deps.Images, style: cfg.ImageStyle})
	}
	steps = append(steps,
		&environmentStep{deps: deps, logger: logger},
		&sceneStep{deps: deps, logger: logger},
		&continuityStep{deps: deps},
	)
	if cfg.EnvironmentImages && haveImages {
		steps = append(steps, &environmentImageStep{gen: deps.Images, style: cfg.ImageStyle})
	}
	if cfg.SceneImages && haveImages {
		steps = append(steps, &sceneImageStep{gen: deps.Images, style: cfg.ImageStyle})
	}
	if !haveImages && (cfg.CharacterImages || cfg.EnvironmentImages || cfg.SceneImages) {
		logger.Warn("image steps enabled but no image generator configured")
	}
	return steps
}

// softFail swallows call and validation failures after logging them. Any
// other error is returned.
func softFail(logger *log.Logger, r Reporter, what string, err error) error {
	if err == nil {
		return nil
	}
	if inference.NoResult(err) || errors.Is(err, assets.ErrValidation) {
		logger.Warn(what+" degraded", "error", err)
		r.Log(fmt.Sprintf("%s: %v", what, err))
		return nil
	}
	return err
}

// storyText is the text extraction reads: English when available.
func storyText(pc *schema.ProcessingContext) string {
	return cmp.Or(strings.TrimSpace(pc.StoryEnglish), strings.TrimSpace(pc.StoryOriginal))
}

type stitchStep struct {
	deps   Deps
	cfg    config.PipelineConfig
	logger *log.Logger
}

func (s *stitchStep) Name() string { return "StoryStitchingStep" }

func (s *stitchStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	if strings.TrimSpace(pc.Prompt) == "" && strings.TrimSpace(strings.Join(pc.Segments, "")) == "" {
		r.Log("No prompt or segments to stitch")
		return nil
	}
	res, err := s.deps.Stitcher.Stitch(ctx, pc.Prompt, pc.Segments, cmp.Or(pc.Language, s.cfg.Language))
	if err != nil {
		return softFail(s.logger, r, "story stitching", err)
	}

	pc.StoryOriginal = res.StoryOriginal
	pc.StoryEnglish = res.StoryEnglish
	pc.StoryLanguage = res.Language
	pc.TitleEnglish = res.TitleShort
	pc.ContextTags = res.Tags
	r.Log(fmt.Sprintf("Story stitched (%s, %d context tags)", cmp.Or(language.Name(pc.StoryLanguage), "unknown language"), len(pc.ContextTags)))

	if pc.TitleEnglish == "" || !language.ShouldLocalize(pc.StoryLanguage) {
		return nil
	}
	localized, err := s.deps.Localizer.LocalizeTitle(ctx, pc.TitleEnglish, pc.StoryLanguage)
	if err != nil {
		return softFail(s.logger, r, "title localization", err)
	}
	if localized != pc.TitleEnglish {
		pc.TitleLocalized = localized
	}
	return nil
}

type characterStep struct {
	deps   Deps
	logger *log.Logger
}

func (s *characterStep) Name() string { return "CharacterExtractionStep" }

func (s *characterStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	if !pc.HasStory() {
		r.Log("No story text; skipping character extraction")
		return nil
	}
	chars, err := s.deps.Extractor.ExtractCharacters(ctx, storyText(pc), pc.StoryLanguage)
	if err := softFail(s.logger, r, "character extraction", err); err != nil {
		return err
	}
	for i := range chars {
		chars[i].ID = pc.NewAssetID(schema.KindCharacter)
	}

	localized, err := s.deps.Localizer.LocalizeCharacters(ctx, chars, pc.StoryLanguage)
	if err := softFail(s.logger, r, "character localization", err); err != nil {
		return err
	}
	if localized != nil {
		chars = localized
	}
	pc.Characters = chars
	r.Log(fmt.Sprintf("Found %d characters", len(chars)))
	return nil
}

type environmentStep struct {
	deps   Deps
	logger *log.Logger
}

func (s *environmentStep) Name() string { return "EnvironmentExtractionStep" }

// Process lists the story-level environments. They are scene builder hints;
// the continuity step decides the final set.
func (s *environmentStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	if !pc.HasStory() {
		r.Log("No story text; skipping environment extraction")
		return nil
	}
	envs, err := s.deps.Extractor.ExtractEnvironments(ctx, storyText(pc), pc.StoryLanguage)
	if err := softFail(s.logger, r, "environment extraction", err); err != nil {
		return err
	}
	for i := range envs {
		envs[i].ID = pc.NewAssetID(schema.KindEnvironment)
	}
	pc.Environments = envs
	r.Log(fmt.Sprintf("Found %d environments", len(envs)))
	return nil
}

type sceneStep struct {
	deps   Deps
	logger *log.Logger
}

func (s *sceneStep) Name() string { return "SceneCompositionStep" }

func (s *sceneStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	if !pc.HasStory() {
		return nil
	}
	built, err := s.deps.Builder.Build(ctx, pc.StoryOriginal, pc.StoryEnglish, pc.Characters, pc.Environments)
	if err := softFail(s.logger, r, "scene composition", err); err != nil {
		return err
	}
	pc.Scenes = built
	r.Log(fmt.Sprintf("Composed %d scenes", len(built)))
	return nil
}

type continuityStep struct {
	deps Deps
}

func (s *continuityStep) Name() string { return "EnvironmentContinuityStep" }

func (s *continuityStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	if !pc.HasStory() {
		return nil
	}
	if err := s.deps.Resolver.Resolve(ctx, pc); err != nil {
		return err
	}
	r.Log(fmt.Sprintf("Resolved %d unique environments across %d scenes", len(pc.Environments), len(pc.Scenes)))
	return nil
}

type characterImageStep struct {
	gen   ImageGenerator
	style string
}

func (s *characterImageStep) Name() string { return "CharacterImageStep" }

func (s *characterImageStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	return generateAssetImages(ctx, s.gen, pc, r, pc.Characters, images.KindCharacter, s.style)
}

type environmentImageStep struct {
	gen   ImageGenerator
	style string
}

func (s *environmentImageStep) Name() string { return "EnvironmentImageStep" }

func (s *environmentImageStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	return generateAssetImages(ctx, s.gen, pc, r, pc.Environments, images.KindEnvironment, s.style)
}

// generateAssetImages fills Image on each asset of list in place.
func generateAssetImages(ctx context.Context, gen ImageGenerator, pc *schema.ProcessingContext, r Reporter, list []schema.Asset, kind images.Kind, style string) error {
	if len(list) == 0 {
		return nil
	}
	jobs := make([]images.Job, len(list))
	for i, a := range list {
		jobs[i] = images.Job{
			Name:   cmp.Or(a.ID, fmt.Sprintf("%s_%d", kind, i+1)),
			Prompt: images.Prompt(kind, style, a.DisplayDescription(), pc.ContextTags),
		}
	}
	paths, err := gen.GenerateAll(ctx, pc.ID, jobs)
	done := 0
	for i, p := range paths {
		if p != "" {
			list[i].Image = p
			done++
		}
	}
	r.Log(fmt.Sprintf("Generated %d/%d %s images", done, len(list), kind))
	return err
}

type sceneImageStep struct {
	gen   ImageGenerator
	style string
}

func (s *sceneImageStep) Name() string { return "SceneImageStep" }

func (s *sceneImageStep) Process(ctx context.Context, pc *schema.ProcessingContext, r Reporter) error {
	if len(pc.Scenes) == 0 {
		return nil
	}
	jobs := make([]images.Job, len(pc.Scenes))
	for i, scene := range pc.Scenes {
		desc := images.SceneDescription(scene, pc.SceneEnvironment(i), pc.SceneCharacters(i))
		jobs[i] = images.Job{
			Name:   fmt.Sprintf("scene_%d", i+1),
			Prompt: images.Prompt(images.KindScene, s.style, desc, pc.ContextTags),
		}
	}
	paths, err := s.gen.GenerateAll(ctx, pc.ID, jobs)
	done := 0
	for i, p := range paths {
		if p != "" {
			pc.Scenes[i].Image = p
			done++
		}
	}
	r.Log(fmt.Sprintf("Generated %d/%d scene images", done, len(pc.Scenes)))
	return err
}
