package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glueco/keywarden/internal/model"
)

func newAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage connected apps",
		Long:  "Inspect, suspend, and revoke the third-party apps that hold access grants.",
	}

	cmd.AddCommand(newAppListCmd())
	cmd.AddCommand(newAppStatusCmd("suspend", model.AppSuspended, "Suspend an app (reversible)"))
	cmd.AddCommand(newAppStatusCmd("resume", model.AppActive, "Resume a suspended app"))
	cmd.AddCommand(newAppStatusCmd("revoke", model.AppRevoked, "Revoke an app permanently"))

	return cmd
}

func newAppListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List connected apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAppList(jsonOutput bool) error {
	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()

	apps, err := st.ListApps(cmdCtx())
	if err != nil {
		return fmt.Errorf("list apps: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(apps)
	}

	if len(apps) == 0 {
		fmt.Println("No apps connected yet. Mint a pairing code with 'keywarden pair'.")
		return nil
	}

	fmt.Printf("%-38s %-24s %-10s %-12s\n", "APP ID", "NAME", "STATUS", "CONNECTED")
	fmt.Printf("%-38s %-24s %-10s %-12s\n", "------", "----", "------", "---------")
	for _, a := range apps {
		fmt.Printf("%-38s %-24s %-10s %-12s\n", a.ID, a.Name, a.Status, a.CreatedAt.Format("2006-01-02"))
	}

	return nil
}

func newAppStatusCmd(use string, status model.AppStatus, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <app-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppStatus(args[0], status)
		},
	}
}

func runAppStatus(appID string, status model.AppStatus) error {
	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := st.GetApp(cmdCtx(), appID)
	if err != nil {
		return fmt.Errorf("app %s: %w", appID, err)
	}
	if app.Status == model.AppRevoked {
		return fmt.Errorf("app %q is revoked; revocation is terminal", app.Name)
	}

	if err := st.UpdateAppStatus(cmdCtx(), appID, status); err != nil {
		return fmt.Errorf("update app status: %w", err)
	}

	fmt.Printf("App %q is now %s\n", app.Name, status)
	if status == model.AppRevoked {
		fmt.Println("All of its permissions were revoked with it.")
	}
	return nil
}
