package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyloom/pkg/diff"
	"storyloom/pkg/queue"
	"storyloom/pkg/schema"
	"storyloom/pkg/transcribe"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		prompt   string
		segments []string
		audio    []string
		title    string
		storyID  string
		lang     string
		noImages bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one story in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noImages {
				cfg.Images.Characters = false
				cfg.Images.Environments = false
				cfg.Images.Scenes = false
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			a.onDiff(func(d diff.StoryDiff) {
				fmt.Fprintln(out, "Changes against the stored story:")
				d.Print(out)
			})

			payload := &schema.Payload{
				StoryID:   strings.TrimSpace(storyID),
				Prompt:    strings.TrimSpace(prompt),
				UserTitle: strings.TrimSpace(title),
				Timestamp: time.Now(),
				Language:  strings.TrimSpace(lang),
			}
			for _, s := range segments {
				if s = strings.TrimSpace(s); s != "" {
					payload.Transcriptions = append(payload.Transcriptions, s)
				}
			}
			if len(audio) > 0 {
				texts, err := transcribe.All(cmd.Context(), a.transcriber(), audio, logger)
				if err != nil {
					return err
				}
				payload.Transcriptions = append(payload.Transcriptions, texts...)
				payload.SegmentPaths = audio
			}
			if payload.Prompt == "" && len(payload.Transcriptions) == 0 {
				return errNoInput
			}

			worker := queue.New(a.process, a.runs, logger, 1)
			worker.Start()
			defer worker.Stop()

			run, err := worker.Add(payload)
			if err != nil {
				return err
			}
			events, unsubscribe := run.Subscribe()
			defer unsubscribe()

			errOut := cmd.ErrOrStderr()
			for {
				select {
				case <-cmd.Context().Done():
					worker.Cancel(run.ID)
					<-run.Done()
					return cmd.Context().Err()
				case ev, ok := <-events:
					if !ok {
						return finishRun(cmd, a, run)
					}
					switch ev.Type {
					case queue.EventProgress:
						fmt.Fprintf(errOut, "[%d/%d] %s\n", ev.Current, ev.Total, ev.Step)
					case queue.EventLog:
						fmt.Fprintf(errOut, "  %s\n", ev.Message)
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Story prompt")
	cmd.Flags().StringArrayVarP(&segments, "segment", "s", nil, "Transcribed story fragment (repeatable)")
	cmd.Flags().StringArrayVarP(&audio, "audio", "a", nil, "Audio segment to transcribe (repeatable)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "User title")
	cmd.Flags().StringVar(&storyID, "id", "", "Story id to create or reprocess")
	cmd.Flags().StringVarP(&lang, "language", "l", "", "Force the story language")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "Skip every image step")
	return cmd
}

func finishRun(cmd *cobra.Command, a *app, run *queue.Run) error {
	<-run.Done()
	if err := run.Err(); err != nil {
		return fmt.Errorf("run %s %s: %w", run.ID, run.Status(), err)
	}
	story, found, err := a.stories.Get(run.StoryID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("story %s was not saved", run.StoryID)
	}
	printStory(cmd.OutOrStdout(), story)
	return nil
}
