package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dbvault/internal/adapter"
	"dbvault/internal/logger"
	"dbvault/internal/sidecar"
)

var (
	adapterAddKind    string
	adapterAddImpl    string
	adapterAddName    string
	adapterAddParams  []string
	adapterAddSecrets []string
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "Manage storage and database adapter configurations",
	Long: `Manage the configured adapter instances dbvault restores through.

Storage adapters (local, s3, sftp, gdrive) hold backup artifacts;
database adapters (postgres, mysql, mariadb) are restore targets. Each
configuration pairs an implementation with connection parameters;
secret parameters are sealed with the master key before they touch
disk.`,
}

var adaptersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdaptersList()
	},
}

var adaptersAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or replace an adapter configuration",
	Long: `Add or replace an adapter configuration.

Examples:
  dbvault adapters add s3-prod --kind storage --adapter s3 \
    --param bucket=prod-backups --param region=eu-central-1 \
    --secret secretAccessKey=...

  dbvault adapters add pg-staging --kind database --adapter postgres \
    --param host=staging.db --param port=5432 --param user=postgres \
    --secret password=...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdaptersAdd(args[0])
	},
}

var adaptersRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an adapter configuration",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdaptersRemove(args[0])
	},
}

var adaptersTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Probe connectivity for one configured adapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdaptersTest(cmd.Context(), args[0])
	},
}

var adaptersLsCmd = &cobra.Command{
	Use:   "ls <storage-id> [dir]",
	Short: "List backup artifacts on a storage adapter",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) > 1 {
			dir = args[1]
		}
		return runAdaptersLs(cmd.Context(), args[0], dir)
	},
}

func init() {
	adaptersAddCmd.Flags().StringVar(&adapterAddKind, "kind", "", "adapter kind: storage or database (required)")
	adaptersAddCmd.Flags().StringVar(&adapterAddImpl, "adapter", "", "implementation id, e.g. s3 or postgres (required)")
	adaptersAddCmd.Flags().StringVar(&adapterAddName, "name", "", "display name")
	adaptersAddCmd.Flags().StringArrayVar(&adapterAddParams, "param", nil, "connection parameter key=value (repeatable)")
	adaptersAddCmd.Flags().StringArrayVar(&adapterAddSecrets, "secret", nil, "secret parameter key=value, sealed at rest (repeatable)")
	_ = adaptersAddCmd.MarkFlagRequired("kind")
	_ = adaptersAddCmd.MarkFlagRequired("adapter")

	adaptersCmd.AddCommand(adaptersListCmd)
	adaptersCmd.AddCommand(adaptersAddCmd)
	adaptersCmd.AddCommand(adaptersRemoveCmd)
	adaptersCmd.AddCommand(adaptersTestCmd)
	adaptersCmd.AddCommand(adaptersLsCmd)
}

func runAdaptersList() error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	configs := rt.store.Adapters("")
	if len(configs) == 0 {
		fmt.Println("No adapters configured. Add one with 'dbvault adapters add'.")
		return nil
	}

	fmt.Printf("%s\n", tableHeaderStyle.Render(
		fmt.Sprintf("%-20s  %-10s  %-10s  %s", "ID", "KIND", "ADAPTER", "NAME")))
	for _, c := range configs {
		fmt.Printf("%-20s  %-10s  %-10s  %s\n", c.ID, c.Kind, c.Adapter, c.DisplayName)
	}
	return nil
}

func runAdaptersAdd(id string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	params := make(map[string]string)
	for _, kv := range adapterAddParams {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		params[k] = v
	}
	for _, kv := range adapterAddSecrets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --secret %q, want key=value", kv)
		}
		sealed, err := rt.keeper.Seal(v)
		if err != nil {
			return err
		}
		params[k] = sealed
	}

	cfg := adapter.Config{
		ID:          id,
		Kind:        adapter.Kind(adapterAddKind),
		Adapter:     adapterAddImpl,
		DisplayName: adapterAddName,
		Params:      params,
	}
	if err := rt.store.SaveAdapter(cfg); err != nil {
		return err
	}
	logger.SuccessColor.Printf("✓ Saved adapter %s\n", id)
	return nil
}

func runAdaptersRemove(id string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.store.DeleteAdapter(id); err != nil {
		return err
	}
	logger.SuccessColor.Printf("✓ Removed adapter %s\n", id)
	return nil
}

func runAdaptersTest(ctx context.Context, id string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, err := rt.store.Adapter(id)
	if err != nil {
		return err
	}
	params, err := rt.keeper.OpenAll(cfg.Params)
	if err != nil {
		return err
	}
	cfg.Params = params

	var result adapter.TestResult
	switch cfg.Kind {
	case adapter.KindStorage:
		impl, err := rt.reg.Storage(cfg.Adapter)
		if err != nil {
			return err
		}
		result = impl.Test(ctx, cfg)
	case adapter.KindDatabase:
		impl, err := rt.reg.Database(cfg.Adapter)
		if err != nil {
			return err
		}
		result = impl.Test(ctx, cfg)
	}

	if !result.Success {
		logger.ErrorColor.Printf("✗ %s: %s\n", id, result.Message)
		return fmt.Errorf("adapter %s is not reachable", id)
	}

	logger.SuccessColor.Printf("✓ %s reachable\n", id)
	if result.Version != "" {
		fmt.Printf("  Version: %s\n", result.Version)
	}
	if result.Edition != "" {
		fmt.Printf("  Edition: %s\n", result.Edition)
	}
	return nil
}

func runAdaptersLs(ctx context.Context, id, dir string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, err := rt.store.Adapter(id)
	if err != nil {
		return err
	}
	if cfg.Kind != adapter.KindStorage {
		return fmt.Errorf("adapter %s is not a storage adapter", id)
	}
	params, err := rt.keeper.OpenAll(cfg.Params)
	if err != nil {
		return err
	}
	cfg.Params = params

	impl, err := rt.reg.Storage(cfg.Adapter)
	if err != nil {
		return err
	}

	entries, err := impl.List(ctx, cfg, dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	for _, e := range entries {
		if sidecar.IsSidecar(e.Name) {
			continue
		}
		if e.IsDir {
			fmt.Printf("%10s  %-20s  %s/\n", "", "", e.Name)
			continue
		}
		fmt.Printf("%10s  %-20s  %s\n",
			humanize.Bytes(uint64(e.Size)),
			e.ModTime.Format("2006-01-02 15:04:05"),
			e.Name)
	}
	return nil
}
