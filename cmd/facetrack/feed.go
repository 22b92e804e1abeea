package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack"
	"github.com/lib-x/facetrack/internal/log"
)

var (
	feedMaxFaces  int
	feedStream    int
	feedNoSave    bool
	feedKeepGoing bool
	feedQuiet     bool
)

var feedCmd = &cobra.Command{
	Use:   "feed <dir|file>...",
	Short: "Feed an image sequence through the tracker",
	Long: `Feed images through the tracker as consecutive frames of one stream.
Directories are expanded to their image files in name order. The memory
is saved back to the store afterwards.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().IntVar(&feedMaxFaces, "max-faces", 0, "faces tracked per frame (default from config)")
	feedCmd.Flags().IntVar(&feedStream, "stream", 0, "stream index the frames belong to")
	feedCmd.Flags().BoolVar(&feedNoSave, "no-save", false, "do not write the memory back")
	feedCmd.Flags().BoolVar(&feedKeepGoing, "keep-going", false, "log failed frames and continue")
	feedCmd.Flags().BoolVarP(&feedQuiet, "quiet", "q", false, "only print events")
	rootCmd.AddCommand(feedCmd)
}

func runFeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	paths, err := framePaths(args)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	maxFaces := feedMaxFaces
	if maxFaces <= 0 {
		maxFaces = cfg.Tracker.MaxFaces
	}
	policy := facetrack.ErrorPolicy{Mode: facetrack.ModeReturn}
	if feedKeepGoing {
		policy = facetrack.ErrorPolicy{Mode: facetrack.ModeSilent, Logger: log.L()}
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Tracking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := feedOne(s.tracker, path, maxFaces)
		if err != nil {
			failed++
			if err := policy.Check(fmt.Errorf("%s: %w", path, err)); err != nil {
				return err
			}
		} else {
			if !feedQuiet {
				fmt.Fprintf(out, "%s\tframe=%d\tids=%v\n", path, res.Frame, res.IDs)
			}
			for _, ev := range res.Events {
				fmt.Fprintf(out, "%s\t%s\n", path, ev)
			}
		}
		bar.Add(1)
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	log.Info("feed finished", "frames", len(paths), "failed", failed)
	if feedNoSave {
		return nil
	}
	return s.save(ctx)
}

func feedOne(t *facetrack.Tracker, path string, maxFaces int) (facetrack.FeedResult, error) {
	img, err := loadFrame(path)
	if err != nil {
		return facetrack.FeedResult{}, err
	}
	return t.FeedFrame(img, maxFaces, feedStream)
}
