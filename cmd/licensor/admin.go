package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibero-data/licensor/internal/auth"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin users",
	Long:  `Commands for managing the users allowed to call the admin API.`,
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new admin",
	RunE:  runAdminCreate,
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all admins",
	RunE:  runAdminList,
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete [email]",
	Short: "Delete an admin by email",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminDelete,
}

func init() {
	adminCmd.AddCommand(adminCreateCmd)
	adminCmd.AddCommand(adminListCmd)
	adminCmd.AddCommand(adminDeleteCmd)
}

func runAdminCreate(cmd *cobra.Command, args []string) error {
	_, db, _, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	email := prompt("Email: ")
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("invalid email address")
	}
	name := prompt("Name (optional): ")

	password, err := promptPassword()
	if err != nil {
		return err
	}

	admin, err := auth.NewStore(db).Create(cmd.Context(), email, password, name)
	if errors.Is(err, auth.ErrAdminExists) {
		return errors.New("an admin with this email already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	fmt.Printf("Admin created: %s\n", admin.Email)
	return nil
}

func runAdminList(cmd *cobra.Command, args []string) error {
	_, db, _, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	admins, err := auth.NewStore(db).List(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tCREATED")
	for _, a := range admins {
		name := a.Name
		if name == "" {
			name = "-"
		}
		created := time.UnixMilli(a.CreatedAt).Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID[:8], a.Email, name, created)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d admin(s)\n", len(admins))
	return nil
}

func runAdminDelete(cmd *cobra.Command, args []string) error {
	email := args[0]

	_, db, _, done, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer done()

	if !confirm(fmt.Sprintf("Are you sure you want to delete admin '%s'?", email)) {
		fmt.Println("Cancelled.")
		return nil
	}

	if err := auth.NewStore(db).Delete(cmd.Context(), email); err != nil {
		if errors.Is(err, auth.ErrAdminNotFound) {
			return fmt.Errorf("admin not found: %s", email)
		}
		return fmt.Errorf("failed to delete admin: %w", err)
	}

	fmt.Printf("Admin deleted: %s\n", email)
	return nil
}
