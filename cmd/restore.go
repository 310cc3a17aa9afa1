package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"dbvault/internal/adapter"
	"dbvault/internal/execution"
	"dbvault/internal/logger"
	"dbvault/internal/restore"
)

var (
	restoreStorageID  string
	restoreFile       string
	restoreTargetID   string
	restoreTargetDB   string
	restoreMappings   []string
	restoreSkips      []string
	restorePrivUser   string
	restorePrivPass   string
	restoreShowOutput bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup artifact into a configured target",
	Long: `Restore one backup artifact from a configured storage backend into a
configured database target.

The restore runs the same pipeline as the service: compatibility
preflight, download, decryption, decompression, then the engine's own
restore tools. The command blocks until the restore finishes and exits
non-zero on failure.

Composite cluster artifacts restore every contained database by
default. Use --map to rename and --skip to leave databases out.

Examples:
  # Straight restore
  dbvault restore --storage s3-prod --file backups/orders.dump.gz --target pg-staging

  # Restore into a differently named database
  dbvault restore --storage s3-prod --file backups/orders.dump.gz --target pg-staging \
    --target-db orders_restored

  # Composite artifact: rename one database, skip another
  dbvault restore --storage s3-prod --file backups/cluster.tar.gz --target pg-staging \
    --map inventory=inventory_restored --skip billing`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd.Context())
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreStorageID, "storage", "", "storage adapter config id (required)")
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "artifact path on the storage backend (required)")
	restoreCmd.Flags().StringVar(&restoreTargetID, "target", "", "database adapter config id (required)")
	restoreCmd.Flags().StringVar(&restoreTargetDB, "target-db", "", "restore into this database name instead of the original")
	restoreCmd.Flags().StringArrayVar(&restoreMappings, "map", nil, "rename a database of a composite artifact, original=target (repeatable)")
	restoreCmd.Flags().StringArrayVar(&restoreSkips, "skip", nil, "skip a database of a composite artifact (repeatable)")
	restoreCmd.Flags().StringVar(&restorePrivUser, "privileged-user", "", "privileged user for restores needing elevated rights")
	restoreCmd.Flags().StringVar(&restorePrivPass, "privileged-password", "", "password for --privileged-user")
	restoreCmd.Flags().BoolVar(&restoreShowOutput, "show-output", false, "print the full execution log when the restore finishes")
	_ = restoreCmd.MarkFlagRequired("storage")
	_ = restoreCmd.MarkFlagRequired("file")
	_ = restoreCmd.MarkFlagRequired("target")
}

func runRestore(ctx context.Context) error {
	mapping, err := parseMappings(restoreMappings, restoreSkips)
	if err != nil {
		return err
	}

	req := restore.Request{
		StorageConfigID:    restoreStorageID,
		File:               restoreFile,
		TargetSourceID:     restoreTargetID,
		TargetDatabaseName: restoreTargetDB,
		DatabaseMapping:    mapping,
	}
	if restorePrivUser != "" {
		req.PrivilegedAuth = &restore.Credentials{User: restorePrivUser, Password: restorePrivPass}
	}

	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	exec, err := rt.orch.Start(ctx, req)
	if err != nil {
		return err
	}
	log.Info("restore accepted", "execution", exec.ID)

	final, err := watchExecution(ctx, rt, exec.ID)
	if err != nil {
		return err
	}

	if restoreShowOutput || final.Status == execution.StatusFailed {
		printExecutionLog(final)
	}

	if final.Status != execution.StatusSuccess {
		return fmt.Errorf("restore %s failed", exec.ID)
	}
	logger.SuccessColor.Printf("✓ Restore completed: %s\n", restoreFile)
	return nil
}

// parseMappings folds --map and --skip flags into the mapping list
func parseMappings(maps, skips []string) ([]adapter.DatabaseMapping, error) {
	var out []adapter.DatabaseMapping
	for _, m := range maps {
		orig, target, ok := strings.Cut(m, "=")
		if !ok || orig == "" || target == "" {
			return nil, fmt.Errorf("invalid --map %q, want original=target", m)
		}
		out = append(out, adapter.DatabaseMapping{
			OriginalName: orig, TargetName: target, Selected: true,
		})
	}
	for _, s := range skips {
		if s == "" {
			return nil, fmt.Errorf("--skip needs a database name")
		}
		out = append(out, adapter.DatabaseMapping{OriginalName: s, Selected: false})
	}
	return out, nil
}

// watchExecution polls the execution until it is terminal, driving a
// progress bar with the persisted stage and percentage.
func watchExecution(ctx context.Context, rt *runtime, id string) (*execution.Execution, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Initializing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The pipeline keeps running; the watcher just stops
			fmt.Println()
			log.Warn("detached from running restore", "execution", id)
			return nil, ctx.Err()
		case <-ticker.C:
			exec, err := rt.execs.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if exec == nil {
				return nil, fmt.Errorf("execution %s disappeared", id)
			}

			bar.Describe(string(exec.Metadata.Stage))
			_ = bar.Set(int(exec.Metadata.Progress))

			if exec.Status.Terminal() {
				_ = bar.Finish()
				fmt.Println()
				return exec, nil
			}
		}
	}
}

func printExecutionLog(e *execution.Execution) {
	for _, entry := range e.Logs {
		ts := entry.Timestamp.Format("15:04:05")
		switch entry.Level {
		case execution.LevelError:
			logger.ErrorColor.Printf("%s  %s\n", ts, entry.Message)
		case execution.LevelWarning:
			logger.WarnColor.Printf("%s  %s\n", ts, entry.Message)
		default:
			fmt.Printf("%s  %s\n", ts, entry.Message)
		}
		if entry.Details != "" {
			logger.DimColor.Printf("          %s\n", entry.Details)
		}
	}
}
