package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aljoscha/shot-o-matic/internal/db/migrations"
	"github.com/aljoscha/shot-o-matic/internal/models"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create or upgrade the database schema and the default admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := a.context()
		if err := a.bootstrap(ctx); err != nil {
			return err
		}
		version, dirty, err := migrations.Version(ctx, a.db.DB, a.db.Driver)
		if err != nil {
			return err
		}
		fmt.Printf("Database %s ready at schema version %d", a.cfg.DBDriver, version)
		if dirty {
			fmt.Print(" (dirty)")
		}
		fmt.Println()
		return nil
	},
}

// readPassword prompts twice on a terminal. Piped input is read as one line.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return line, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

var useraddCmd = &cobra.Command{
	Use:   "useradd NAME",
	Short: "Create a user and their screenshot directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		isAdmin, _ := cmd.Flags().GetBool("admin")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			var err error
			if password, err = readPassword(); err != nil {
				return err
			}
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.accounts.Create(a.context(), args[0], password, isAdmin)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s", user.Name)
		if user.IsAdmin {
			fmt.Print(" (admin)")
		}
		fmt.Println()
		return nil
	},
}

var userdelCmd = &cobra.Command{
	Use:   "userdel NAME",
	Short: "Delete a user and all of their screenshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.accounts.Delete(a.context(), args[0])
		var storageErr *models.StorageError
		switch {
		case err == nil:
			fmt.Printf("Deleted user %s\n", args[0])
		case errors.As(err, &storageErr):
			fmt.Printf("Deleted user %s, but their screenshots could not be removed: %v\n", args[0], storageErr)
		case errors.Is(err, models.ErrNotFound):
			return fmt.Errorf("user %s does not exist", args[0])
		default:
			return err
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := a.context()
		users, err := a.accounts.List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADMIN\tSCREENSHOTS\tCREATED")
		for _, u := range users {
			shots, err := a.spaces.List(u.Namespace)
			if err != nil {
				return err
			}
			admin := ""
			if u.IsAdmin {
				admin = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.Name, admin, len(shots), u.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}
