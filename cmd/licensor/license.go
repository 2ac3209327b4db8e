package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ibero-data/licensor/internal/config"
	"github.com/ibero-data/licensor/internal/database"
	"github.com/ibero-data/licensor/internal/licensing"
	"github.com/ibero-data/licensor/internal/logging"
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Manage license keys",
}

var licenseGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate unused license keys",
	RunE:  runLicenseGenerate,
}

var licenseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List licenses, newest first",
	RunE:  runLicenseList,
}

var licenseShowCmd = &cobra.Command{
	Use:   "show [key]",
	Short: "Show a license and its purchaser",
	Args:  cobra.ExactArgs(1),
	RunE:  runLicenseShow,
}

var (
	generateCount int
	listLimit     int
	listOffset    int
)

func init() {
	licenseGenerateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "Number of keys to generate")
	licenseListCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of licenses to list")
	licenseListCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of licenses to skip")

	licenseCmd.AddCommand(licenseGenerateCmd)
	licenseCmd.AddCommand(licenseListCmd)
	licenseCmd.AddCommand(licenseShowCmd)
}

// openStore prepares the config, logger and database for a one-shot
// command. The returned func releases them.
func openStore(cmd *cobra.Command) (*config.Config, *database.DB, zerolog.Logger, func(), error) {
	nop := zerolog.Nop()

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nop, nil, err
	}

	// keep stdout for command output
	logger, closer, err := logging.New("warn", cfg.LogFile)
	if err != nil {
		return nil, nil, nop, nil, err
	}

	db, err := openDatabase(cmd.Context(), cfg, logger)
	if err != nil {
		closer.Close()
		return nil, nil, nop, nil, err
	}

	return cfg, db, logger, func() {
		db.Close()
		closer.Close()
	}, nil
}

func runLicenseGenerate(cmd *cobra.Command, args []string) error {
	if generateCount < 1 {
		return errors.New("count must be at least 1")
	}

	cfg, db, logger, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	store := licensing.NewStore(db, cfg.LicenseValidity.Duration, logger)
	for i := 0; i < generateCount; i++ {
		lic, err := store.GenerateUnique(cmd.Context(), licensing.DefaultKeyAttempts)
		if err != nil {
			return fmt.Errorf("failed to generate license: %w", err)
		}
		fmt.Println(lic.Key)
	}
	return nil
}

func runLicenseList(cmd *cobra.Command, args []string) error {
	cfg, db, logger, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	store := licensing.NewStore(db, cfg.LicenseValidity.Duration, logger)
	licenses, err := store.List(cmd.Context(), listLimit, listOffset)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tGENERATED\tEXPIRES\tUSED\tUSER HASH")
	for _, lic := range licenses {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			lic.Key,
			lic.GeneratedAt.Format("2006-01-02 15:04"),
			formatExpiry(lic.ExpiresAt),
			lic.Used,
			deref(lic.UserHash),
		)
	}
	w.Flush()

	fmt.Printf("\nShown: %d license(s)\n", len(licenses))
	return nil
}

func runLicenseShow(cmd *cobra.Command, args []string) error {
	cfg, db, logger, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	store := licensing.NewStore(db, cfg.LicenseValidity.Duration, logger)
	lic, err := store.Get(cmd.Context(), args[0])
	if errors.Is(err, licensing.ErrNotFound) {
		return fmt.Errorf("license not found: %s", args[0])
	}
	if err != nil {
		return err
	}

	fmt.Printf("Key:        %s\n", lic.Key)
	fmt.Printf("Generated:  %s\n", lic.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Expires:    %s\n", formatExpiry(lic.ExpiresAt))
	fmt.Printf("Used:       %t\n", lic.Used)
	fmt.Printf("User hash:  %s\n", deref(lic.UserHash))

	user, err := store.UserForLicense(cmd.Context(), lic.ID)
	switch {
	case err == nil:
		fmt.Printf("Purchaser:  %s <%s>\n", user.Name, user.Email)
	case errors.Is(err, licensing.ErrNotFound):
	default:
		return err
	}
	return nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02 15:04")
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
