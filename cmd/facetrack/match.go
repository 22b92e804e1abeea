package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack"
)

var (
	matchThreshold float64
	matchMax       int
)

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Match the most prominent face of an image against the memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := loadFrame(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		tmpl, err := facetrack.FaceTemplateFromImage(s.tracker.Engine(), img)
		if err != nil {
			return err
		}
		threshold := matchThreshold
		if !cmd.Flags().Changed("threshold") {
			threshold = s.tracker.Params().Threshold
		}
		matches, err := s.tracker.MatchAgainst(tmpl, threshold, matchMax)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No match.")
			return nil
		}
		for _, m := range matches {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%.3f\n", m.ID, m.Similarity)
		}
		return nil
	},
}

func init() {
	matchCmd.Flags().Float64Var(&matchThreshold, "threshold", 0.8, "minimum similarity (default: the tracker Threshold)")
	matchCmd.Flags().IntVar(&matchMax, "max", 5, "maximum number of matches")
	rootCmd.AddCommand(matchCmd)
}
