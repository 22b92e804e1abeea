package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lib-x/facetrack"
)

var idsCmd = &cobra.Command{
	Use:   "ids",
	Short: "List the identities in the memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		ids, err := s.tracker.AllIDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No identities in memory.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tFACES\tSIMILAR")
		for _, id := range ids {
			row, err := describeIdentity(s.tracker, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, row)
		}
		return w.Flush()
	},
}

// describeIdentity locks id briefly to read its name.
func describeIdentity(t *facetrack.Tracker, id facetrack.ID) (string, error) {
	if err := t.Lock(id); err != nil {
		return "", err
	}
	defer t.Unlock(id)

	name, err := t.Name(id)
	if err != nil {
		return "", err
	}
	state, err := t.IdentityState(id)
	if err != nil {
		return "", err
	}
	faces, err := t.FaceIDs(id)
	if err != nil {
		return "", err
	}
	similar, err := t.SimilarIDs(id)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("%d\t%s\t%s\t%d\t%v", id, name, state, len(faces), similar), nil
}

var nameCmd = &cobra.Command{
	Use:   "name <id> [name]",
	Short: "Show or set the name of an identity",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.tracker.Lock(id); err != nil {
			return err
		}
		defer s.tracker.Unlock(id)

		if len(args) == 1 {
			names, err := s.tracker.AllNames(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, ", "))
			return nil
		}
		if err := s.tracker.SetName(id, args[1]); err != nil {
			return err
		}
		return s.save(cmd.Context())
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <id>...",
	Short: "Delete identities and all their faces",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, arg := range args {
			id, err := parseID(arg)
			if err != nil {
				return err
			}
			if err := s.tracker.Purge(id); err != nil {
				return err
			}
		}
		return s.save(cmd.Context())
	},
}

var reassignCmd = &cobra.Command{
	Use:   "reassign <id>",
	Short: "Show which identity an id was merged into",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		into, err := s.tracker.IDReassignment(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d -> %d\n", id, into)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(idsCmd, nameCmd, purgeCmd, reassignCmd)
}
