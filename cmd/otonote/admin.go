package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"otonote/internal/jobs"
	"otonote/internal/media"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <job_id>",
	Short: "Move a failed job back to queued",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}
		a, err := setup(false)
		if err != nil {
			return err
		}
		defer a.close()

		repo := &jobs.Repo{DB: a.db}
		if err := repo.Requeue(cmd.Context(), id); err != nil {
			if errors.Is(err, jobs.ErrInvalidTransition) {
				return fmt.Errorf("job %d is not in error state", id)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %d requeued\n", id)
		return nil
	},
}

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-orphans",
	Short: "Delete files under MEDIA_ROOT/input that no job references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(false)
		if err != nil {
			return err
		}
		defer a.close()

		refs, err := (&jobs.Repo{DB: a.db}).ReferencedInputs(cmd.Context())
		if err != nil {
			return err
		}
		rep, err := media.NewStore(a.cfg.MediaRoot).Cleanup(refs, cleanupDryRun)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, p := range rep.Orphans {
			fmt.Fprintf(out, "ORPHAN: %s\n", p)
		}
		if cleanupDryRun {
			fmt.Fprintf(out, "[dry-run] orphan files that would be deleted: %d\n", len(rep.Orphans))
		} else {
			fmt.Fprintf(out, "Deleted orphan files: %d\n", rep.Deleted)
		}
		fmt.Fprintf(out, "Kept (referenced) files: %d\n", rep.Kept)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(true)
		if err != nil {
			return err
		}
		a.close()
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted, but do not delete")
	rootCmd.AddCommand(requeueCmd, cleanupCmd, migrateCmd)
}
