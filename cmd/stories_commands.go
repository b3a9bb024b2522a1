package main

import (
	"cmp"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyloom/pkg/export"
	"storyloom/pkg/schema"
	"storyloom/pkg/store"
	"storyloom/pkg/utils"
)

func newStoriesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "Inspect persisted stories",
	}
	cmd.AddCommand(newStoriesListCommand(ctx))
	cmd.AddCommand(newStoriesShowCommand(ctx))
	cmd.AddCommand(newStoriesExportCommand(ctx))
	return cmd
}

func openStories(ctx *commandContext) (*store.Stories, error) {
	cfg, _, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.OpenStories(cfg.StoriesFile())
}

func newStoriesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			stories, err := openStories(ctx)
			if err != nil {
				return err
			}
			list, err := stories.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No stories yet")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, st := range list {
				rows = append(rows, []string{
					st.ID,
					utils.LimitStr(st.Title, 60),
					st.Timestamp.Local().Format(time.DateTime),
					processedLabel(st.Processed),
					strconv.Itoa(len(st.Characters)),
					strconv.Itoa(len(st.Environments)),
					strconv.Itoa(len(st.Scenes)),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Title", "Created", "State", "Chars", "Envs", "Scenes"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newStoriesShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stories, err := openStories(ctx)
			if err != nil {
				return err
			}
			story, found, err := stories.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("story %s not found", args[0])
			}
			if asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), utils.PrettyJSON(story))
				return nil
			}
			printStory(cmd.OutOrStdout(), story)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the stored record as JSON")
	return cmd
}

func newStoriesExportCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a story archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stories, err := openStories(ctx)
			if err != nil {
				return err
			}
			story, found, err := stories.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("story %s not found", args[0])
			}
			path, err := export.ToFile(cmp.Or(outDir, cfg.ExportsDir()), story)
			if err != nil {
				return fmt.Errorf("export story: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Destination directory (defaults to the exports directory)")
	return cmd
}

func processedLabel(processed bool) string {
	if processed {
		return "processed"
	}
	return "pending"
}

func printStory(w io.Writer, st schema.Story) {
	fmt.Fprintf(w, "%s\n", st.Title)
	fmt.Fprintf(w, "id: %s  language: %s  %s\n", st.ID, cmp.Or(st.Language, "unknown"), processedLabel(st.Processed))
	if len(st.ContextTags) > 0 {
		fmt.Fprintf(w, "tags: %s\n", strings.Join(st.ContextTags, "; "))
	}
	if text := cmp.Or(st.StoryEnglish, st.StoryOriginal); text != "" {
		fmt.Fprintf(w, "\n%s\n", text)
	}

	if len(st.Characters) > 0 {
		rows := make([][]string, 0, len(st.Characters))
		for _, c := range st.Characters {
			rows = append(rows, []string{c.DisplayName(), utils.LimitStr(c.DisplayDescription(), 70), imageMark(c.Image)})
		}
		fmt.Fprintln(w, renderTable([]string{"Character", "Description", "Image"}, rows, nil))
	}
	if len(st.Environments) > 0 {
		rows := make([][]string, 0, len(st.Environments))
		for _, e := range st.Environments {
			rows = append(rows, []string{e.DisplayName(), utils.LimitStr(e.DisplayDescription(), 70), imageMark(e.Image)})
		}
		fmt.Fprintln(w, renderTable([]string{"Environment", "Description", "Image"}, rows, nil))
	}
	if len(st.Scenes) > 0 {
		rows := make([][]string, 0, len(st.Scenes))
		for i, s := range st.Scenes {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				utils.LimitStr(s.DisplayCaptionEnglish(), 60),
				s.Environment,
				strings.Join(s.Characters, ", "),
				imageMark(s.Image),
			})
		}
		fmt.Fprintln(w, renderTable(
			[]string{"#", "Caption", "Environment", "Characters", "Image"},
			rows,
			[]columnAlignment{alignRight},
		))
	}
}

func imageMark(path string) string {
	if path == "" {
		return "-"
	}
	if utils.Exists(path) {
		return "yes"
	}
	return "missing"
}
