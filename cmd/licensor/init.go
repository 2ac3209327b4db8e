package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibero-data/licensor/internal/auth"
	"github.com/ibero-data/licensor/internal/licensing"
	"github.com/ibero-data/licensor/internal/logging"
	"github.com/ibero-data/licensor/internal/settings"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and create an admin user",
	Long: `Runs the setup wizard.

This will:
  1. Apply the database migrations
  2. Generate and store a secret key
  3. Optionally insert the demo license keys
  4. Create an admin user
  5. Optionally store PayPal credentials`,
	RunE: runInit,
}

var (
	seedDemo  bool
	skipAdmin bool
)

func init() {
	initCmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "Insert the demo license keys")
	initCmd.Flags().BoolVar(&skipAdmin, "no-admin", false, "Skip the admin user and PayPal prompts")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Println("===========================================")
	fmt.Println("  Licensor Setup")
	fmt.Println("===========================================")
	fmt.Println()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Println("Database migrations complete.")

	settingsSvc := settings.New(db)
	secretKey, err := settingsSvc.EnsureSecretKey(ctx, cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to store secret key: %w", err)
	}
	settingsSvc.SetMasterKey(secretKey)

	if seedDemo {
		store := licensing.NewStore(db, cfg.LicenseValidity.Duration, logger)
		n, err := store.SeedDemo(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed demo keys: %w", err)
		}
		fmt.Printf("Inserted %d demo license key(s).\n", n)
	}

	if skipAdmin {
		fmt.Println("\nSetup complete! Run 'licensor serve' to start the server.")
		return nil
	}

	admins := auth.NewStore(db)
	count, err := admins.Count(ctx)
	if err != nil {
		return err
	}

	if count == 0 || confirm(fmt.Sprintf("%d admin user(s) exist. Create another?", count)) {
		fmt.Println("\n--- Admin User Setup ---")
		email := prompt("Admin email: ")
		if email == "" || !strings.Contains(email, "@") {
			return errors.New("invalid email address")
		}
		name := prompt("Admin name (optional): ")
		password, err := promptPassword()
		if err != nil {
			return err
		}

		if _, err := admins.Create(ctx, email, password, name); err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}
		fmt.Println("Admin user created successfully.")
	}

	fmt.Println("\n--- PayPal Configuration (Optional) ---")
	fmt.Println("Credentials can also be set with LICENSOR_PAYPAL_CLIENT_ID and LICENSOR_PAYPAL_CLIENT_SECRET.")
	if confirm("Store PayPal credentials now?") {
		values, err := promptPayPalCredentials()
		if err != nil {
			return err
		}
		if values != nil {
			if err := settingsSvc.SetMany(ctx, values); err != nil {
				return fmt.Errorf("failed to store PayPal credentials: %w", err)
			}
			fmt.Println("PayPal credentials saved.")
		}
	}

	fmt.Println("\n===========================================")
	fmt.Println("  Setup Complete!")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run 'licensor serve' to start the server")
	fmt.Println("  2. Generate keys with 'licensor license generate'")
	fmt.Println()
	return nil
}

// promptPayPalCredentials asks for the PayPal client credentials. The secret
// is read without echo. nil means the operator left id or secret empty.
func promptPayPalCredentials() (map[string]string, error) {
	clientID := prompt("PayPal client ID: ")
	clientSecret, err := promptSecret("PayPal client secret: ")
	if err != nil {
		return nil, fmt.Errorf("failed to read PayPal client secret: %w", err)
	}
	clientSecret = strings.TrimSpace(clientSecret)

	environment := strings.ToLower(prompt("Environment (live/sandbox) [live]: "))
	if environment == "" {
		environment = "live"
	}
	if environment != "live" && environment != "sandbox" {
		return nil, fmt.Errorf("unknown PayPal environment %q", environment)
	}

	if clientID == "" || clientSecret == "" {
		return nil, nil
	}
	return map[string]string{
		settings.KeyPayPalClientID:     clientID,
		settings.KeyPayPalClientSecret: clientSecret,
		settings.KeyPayPalEnvironment:  environment,
	}, nil
}
