package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dbvault/internal/config"
	"dbvault/internal/logger"
)

var (
	profileAddName     string
	profileAddMaterial string
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage encryption profiles",
	Long: `Manage the encryption profiles backups are sealed with.

A profile's key material is the secret the artifact key derives from.
Material is sealed with the master key before it is stored. Keep old
profiles around: a restore probes every profile when the one named in
an artifact's metadata is gone.`,
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List encryption profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfilesList()
	},
}

var profilesAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or replace an encryption profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfilesAdd(args[0])
	},
}

var profilesRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an encryption profile",
	Long: `Remove an encryption profile.

Artifacts encrypted under the removed profile stay restorable only if
another profile shares the same key material.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfilesRemove(args[0])
	},
}

func init() {
	profilesAddCmd.Flags().StringVar(&profileAddName, "name", "", "display name")
	profilesAddCmd.Flags().StringVar(&profileAddMaterial, "material", "", "key material the artifact key derives from (required)")
	_ = profilesAddCmd.MarkFlagRequired("material")

	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesAddCmd)
	profilesCmd.AddCommand(profilesRemoveCmd)
}

func runProfilesList() error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	profiles := rt.store.Profiles()
	if len(profiles) == 0 {
		fmt.Println("No encryption profiles. Add one with 'dbvault profiles add'.")
		return nil
	}

	fmt.Printf("%s\n", tableHeaderStyle.Render(
		fmt.Sprintf("%-20s  %-20s  %s", "ID", "NAME", "CREATED")))
	for _, p := range profiles {
		fmt.Printf("%-20s  %-20s  %s\n", p.ID, p.Name, humanize.Time(p.CreatedAt))
	}
	return nil
}

func runProfilesAdd(id string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	sealed, err := rt.keeper.Seal(profileAddMaterial)
	if err != nil {
		return err
	}

	name := profileAddName
	if name == "" {
		name = id
	}
	if err := rt.store.SaveProfile(config.EncryptionProfile{
		ID: id, Name: name, Material: sealed,
	}); err != nil {
		return err
	}
	logger.SuccessColor.Printf("✓ Saved encryption profile %s\n", id)
	return nil
}

func runProfilesRemove(id string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.store.DeleteProfile(id); err != nil {
		return err
	}
	logger.SuccessColor.Printf("✓ Removed encryption profile %s\n", id)
	return nil
}
