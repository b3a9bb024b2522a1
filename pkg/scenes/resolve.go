package scenes

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/charmbracelet/log"

	"storyloom/pkg/assets"
	"storyloom/pkg/inference"
	"storyloom/pkg/logging"
	"storyloom/pkg/schema"
)

type EnvironmentExtractor interface {
	ExtractEnvironmentForScene(ctx context.Context, scene assets.SceneHint, lang, previous string) (*schema.Asset, error)
}

type EnvironmentLocalizer interface {
	LocalizeEnvironments(ctx context.Context, envs []schema.Asset, lang string) ([]schema.Asset, error)
}

// Resolver assigns one canonical environment per scene so a place the story
// stays in or returns to is a single asset.
type Resolver struct {
	extractor EnvironmentExtractor
	localizer EnvironmentLocalizer
	logger    *log.Logger
}

func NewResolver(extractor EnvironmentExtractor, localizer EnvironmentLocalizer, logger *log.Logger) *Resolver {
	return &Resolver{extractor: extractor, localizer: localizer, logger: logging.Or(logger).WithPrefix("continuity")}
}

// Resolve walks the scenes in order. For each scene a candidate environment
// is requested, then:
//  1. no candidate: keep the environment the builder linked, if any;
//  2. candidate matches the previous scene's environment: reuse it;
//  3. candidate matches an environment already resolved: reuse that;
//  4. candidate matches an extracted environment: reuse it with its id;
//  5. otherwise the candidate becomes a new environment.
//
// Extracted environments no scene resolved to are kept after the resolved
// ones. The table is localized in one batch and replaces pc.Environments;
// scene links are re-resolved by id afterwards. Only context errors are
// returned.
func (r *Resolver) Resolve(ctx context.Context, pc *schema.ProcessingContext) error {
	if len(pc.Scenes) == 0 {
		return r.localize(ctx, pc, pc.Environments)
	}

	extracted := slices.Clone(pc.Environments)
	var unique []schema.Asset
	previous := -1
	for i := range pc.Scenes {
		if err := ctx.Err(); err != nil {
			return err
		}
		scene := &pc.Scenes[i]

		prevName := ""
		if previous >= 0 {
			prevName = unique[previous].DisplayName()
		}
		candidate, err := r.extractor.ExtractEnvironmentForScene(ctx, r.hint(pc, i), pc.StoryLanguage, prevName)
		if err != nil {
			if hardError(err) {
				return err
			}
			r.logger.Warn("scene environment", "scene", i, "error", err)
		}

		resolved := -1
		switch {
		case candidate == nil:
			if env := pc.SceneEnvironment(i); env != nil {
				resolved = intern(&unique, *env)
			}
		case previous >= 0 && sameAsset(unique[previous], *candidate):
			resolved = previous
		default:
			if j := findSame(unique, *candidate); j >= 0 {
				resolved = j
			} else if j := findSame(extracted, *candidate); j >= 0 {
				resolved = intern(&unique, fillFrom(extracted[j], *candidate))
			} else {
				c := *candidate
				c.ID = pc.NewAssetID(schema.KindEnvironment)
				unique = append(unique, c)
				resolved = len(unique) - 1
			}
		}

		scene.EnvironmentID = ""
		if resolved >= 0 {
			scene.EnvironmentID = unique[resolved].ID
		}
		r.logger.Debug("scene resolved", "scene", i, "environment", scene.EnvironmentID, "reused", resolved >= 0 && resolved == previous)
		previous = resolved
	}

	for _, env := range extracted {
		if schema.AssetIndex(unique, env.ID) < 0 {
			unique = append(unique, env)
		}
	}
	return r.localize(ctx, pc, unique)
}

// fillFrom completes the blank text fields of env from the candidate.
func fillFrom(env, candidate schema.Asset) schema.Asset {
	env.Description = cmp.Or(env.Description, candidate.Description)
	env.NameEnglish = cmp.Or(env.NameEnglish, candidate.NameEnglish)
	env.DescriptionEnglish = cmp.Or(env.DescriptionEnglish, candidate.DescriptionEnglish)
	return env
}

func (r *Resolver) localize(ctx context.Context, pc *schema.ProcessingContext, envs []schema.Asset) error {
	localized, err := r.localizer.LocalizeEnvironments(ctx, envs, pc.StoryLanguage)
	if err != nil {
		if hardError(err) {
			return err
		}
		r.logger.Warn("environment localization", "error", err)
	}
	pc.Environments = localized

	for i := range pc.Scenes {
		if schema.AssetIndex(pc.Environments, pc.Scenes[i].EnvironmentID) < 0 {
			pc.Scenes[i].EnvironmentID = ""
		}
	}
	return nil
}

func (r *Resolver) hint(pc *schema.ProcessingContext, i int) assets.SceneHint {
	scene := pc.Scenes[i]
	h := assets.SceneHint{
		CaptionOriginal: scene.CaptionOriginal,
		CaptionEnglish:  scene.CaptionEnglish,
		EnvironmentName: scene.EnvironmentName,
	}
	if h.EnvironmentName == "" {
		if env := pc.SceneEnvironment(i); env != nil {
			h.EnvironmentName = env.DisplayName()
		}
	}
	for _, c := range pc.SceneCharacters(i) {
		h.Characters = append(h.Characters, *c)
	}
	return h
}

// intern returns the index of env in unique, appending it when neither its
// id nor its names are present yet.
func intern(unique *[]schema.Asset, env schema.Asset) int {
	if j := schema.AssetIndex(*unique, env.ID); j >= 0 {
		return j
	}
	if j := findSame(*unique, env); j >= 0 {
		return j
	}
	*unique = append(*unique, env)
	return len(*unique) - 1
}

func findSame(list []schema.Asset, a schema.Asset) int {
	for j := range list {
		if sameAsset(list[j], a) {
			return j
		}
	}
	return -1
}

// sameAsset applies the name-matching rule in both directions.
func sameAsset(a, b schema.Asset) bool {
	return a.Matches(b.Name) || a.Matches(b.NameEnglish) || b.Matches(a.DisplayName())
}

func hardError(err error) bool {
	return !inference.NoResult(err) && !errors.Is(err, assets.ErrValidation)
}
