package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glueco/keywarden/internal/model"
	"github.com/glueco/keywarden/internal/pairing"
)

func newPairCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Mint a one-time pairing code",
		Long: `Mint a short-lived, single-use pairing code and print the pairing string
to hand to an app. The app redeems the code through the connect handshake;
you then approve or deny its requested permissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPair(gatewayURL)
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway-url", "", "Public gateway URL embedded in the pairing string (overrides config)")

	return cmd
}

func runPair(gatewayURL string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if gatewayURL == "" {
		gatewayURL = cfg.Server.GatewayURL
	}
	if gatewayURL == "" {
		gatewayURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	code, err := pairing.NewCode()
	if err != nil {
		return fmt.Errorf("mint pairing code: %w", err)
	}
	pc := &model.PairingCode{
		Code:       code,
		GatewayURL: gatewayURL,
		State:      model.PairingIssued,
		ExpiresAt:  time.Now().UTC().Add(pairing.CodeTTL),
	}
	if err := st.CreatePairingCode(cmdCtx(), pc); err != nil {
		return fmt.Errorf("store pairing code: %w", err)
	}

	fmt.Printf("Pairing code:   %s\n", code)
	fmt.Printf("Pairing string: %s\n", pairing.PairingString(gatewayURL, code))
	fmt.Printf("Expires:        %s (%s from now)\n", pc.ExpiresAt.Format(time.RFC3339), pairing.CodeTTL)
	fmt.Println()
	fmt.Println("Hand the pairing string to the app. Approve its request with the admin")
	fmt.Println("API once it redeems the code.")
	return nil
}
