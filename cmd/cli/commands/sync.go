package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/retailops/stocksync/internal/syncer"
)

// sync flag names
const (
	flagDryRun = "dry-run"
	flagForce  = "force"
)

// GetSyncCmd returns the sync command group
func GetSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run synchronization passes against the platform",
	}

	syncCmd.AddCommand(getSyncPullCmd())
	syncCmd.AddCommand(getSyncPushCmd())
	syncCmd.AddCommand(getSyncFullCmd())
	return syncCmd
}

func syncFlags(cmd *cobra.Command) {
	cmd.Flags().Bool(flagDryRun, false, "Report what would change without writing")
	cmd.Flags().Bool(flagForce, false, "Ignore the freshness window and pull anyway")
}

func getSyncPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote changes into the shadow tables and project them",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool(flagDryRun)
			force, _ := cmd.Flags().GetBool(flagForce)

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			pull, err := app.engine.Pull(app.ctx, force, dryRun)
			if err != nil {
				return err
			}
			printPull(cmd, pull, dryRun)

			project, err := app.engine.Project(app.ctx, dryRun)
			if err != nil {
				return err
			}
			printProject(cmd, project, dryRun)
			return nil
		},
	}
	syncFlags(cmd)
	return cmd
}

func getSyncPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push local consignment mutations out to the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool(flagDryRun)

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			push, err := app.engine.Push(app.ctx, dryRun)
			if err != nil {
				return err
			}
			printPush(cmd, push, dryRun)
			return nil
		},
	}
	cmd.Flags().Bool(flagDryRun, false, "Report what would change without writing")
	return cmd
}

func getSyncFullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "full",
		Short: "Run pull, projection and push as one pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool(flagDryRun)
			force, _ := cmd.Flags().GetBool(flagForce)

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			report, err := app.engine.Full(app.ctx, force, dryRun)
			if err != nil {
				return err
			}
			printPull(cmd, report.Pull, dryRun)
			printProject(cmd, report.Project, dryRun)
			printPush(cmd, report.Push, dryRun)
			return nil
		},
	}
	syncFlags(cmd)
	return cmd
}

func printPull(cmd *cobra.Command, r *syncer.PullResult, dryRun bool) {
	if r.SkippedFresh {
		cmd.Println("pull: skipped, cursor is fresh (use --force to override)")
		return
	}
	cmd.Println(fmt.Sprintf("pull%s: fetched=%d created=%d updated=%d skipped=%d",
		dryRunSuffix(dryRun), r.Fetched, r.Created, r.Updated, r.Skipped))
}

func printProject(cmd *cobra.Command, r *syncer.ProjectResult, dryRun bool) {
	cmd.Println(fmt.Sprintf("project%s: projected=%d planned=%d rejected=%d invalid=%d",
		dryRunSuffix(dryRun), r.Projected, r.Planned, r.Rejected, r.Invalid))
}

func printPush(cmd *cobra.Command, r *syncer.PushResult, dryRun bool) {
	cmd.Println(fmt.Sprintf("push%s: created=%d updated=%d planned=%d failed=%d",
		dryRunSuffix(dryRun), r.Created, r.Updated, r.Planned, r.Failed))
}

func dryRunSuffix(dryRun bool) string {
	if dryRun {
		return " (dry run)"
	}
	return ""
}
