package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack"
)

var paramsCmd = &cobra.Command{
	Use:   "params [key=value;...]",
	Short: "Show tracker parameters or store a changed batch",
	Long: `Without arguments, print every tracker parameter with its type and
current value. With a key=value; batch, apply it and save the memory.
A failing batch reports the offset of the offending assignment.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			if _, err := s.tracker.SetParameters(args[0]); err != nil {
				return err
			}
			return s.save(cmd.Context())
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tVALUE")
		for _, name := range facetrack.ParameterNames() {
			typ, err := facetrack.ParameterType(name)
			if err != nil {
				return err
			}
			v, err := s.tracker.ParameterString(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, typ, v)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(paramsCmd)
}
