package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/secret"
	"github.com/glueco/keywarden/internal/store"
)

func newResourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage shared credentials",
		Long:  "Register and inspect the provider API keys the gateway relays with. Secrets are sealed at rest and never printed back.",
	}

	cmd.AddCommand(newResourceAddCmd())
	cmd.AddCommand(newResourceListCmd())

	return cmd
}

// ---------- resource add ----------

func newResourceAddCmd() *cobra.Command {
	var (
		name     string
		resType  string
		provider string
		secretV  string
		baseURL  string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a provider credential",
		Example: `  keywarden resource add --type llm --provider groq --name "Groq key"
  keywarden resource add --type email --provider resend --name "Resend" --secret re_...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResourceAdd(name, resType, provider, secretV, baseURL)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&resType, "type", "", "Resource type: llm or email (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider: openai, groq, anthropic, resend (required)")
	cmd.Flags().StringVar(&secretV, "secret", "", "Provider API key (prompted if omitted)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the provider's base URL")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("provider")

	return cmd
}

func runResourceAdd(name, resType, provider, secretV, baseURL string) error {
	if secretV == "" {
		fmt.Print("API key: ")
		keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		fmt.Println()
		secretV = string(keyBytes)
	}
	if secretV == "" {
		return fmt.Errorf("an API key is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	masterKey, err := secretMaterial(st, cfg.Auth.MasterKey, "master_key")
	if err != nil {
		return err
	}
	sealed, err := secret.NewBox(masterKey).Seal(secretV)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}

	res := &model.Resource{
		Name:         name,
		ResourceType: resType,
		Provider:     provider,
		SecretEnc:    sealed,
		IsActive:     true,
	}
	if baseURL != "" {
		res.Config = map[string]string{"base_url": baseURL}
	}
	if err := st.CreateResource(cmdCtx(), res); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	fmt.Printf("Registered resource %s (%s)\n", res.ResourceID, name)
	return nil
}

// ---------- resource list ----------

func newResourceListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResourceList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runResourceList(jsonOutput bool) error {
	st, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()

	resources, err := st.ListResources(cmdCtx())
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resources)
	}

	if len(resources) == 0 {
		fmt.Println("No resources registered. Use 'keywarden resource add' to register one.")
		return nil
	}

	fmt.Printf("%-20s %-28s %-8s %-8s\n", "RESOURCE", "NAME", "ACTIVE", "ADDED")
	fmt.Printf("%-20s %-28s %-8s %-8s\n", "--------", "----", "------", "-----")
	for _, r := range resources {
		active := "yes"
		if !r.IsActive {
			active = "no"
		}
		fmt.Printf("%-20s %-28s %-8s %-8s\n", r.ResourceID, r.Name, active, r.CreatedAt.Format("2006-01-02"))
	}

	return nil
}

// openStoreFromConfig loads the config and opens the store in one step for
// read-only subcommands.
func openStoreFromConfig() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
