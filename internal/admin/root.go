// Package admin implements agroctl, the operator CLI for the smartagro
// credential store.
package admin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/cryptox"
	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/smartagro/internal/server/services"
	"github.com/spf13/cobra"
)

type options struct {
	driver string
	dsn    string
	hasher string
	cost   int
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewRootCmd builds the agroctl command tree. Database flags default to
// DATABASE_DRIVER and DATABASE_DSN.
func NewRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "agroctl",
		Short:         "Administer the smartagro credential store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&o.driver, "driver", envOr("DATABASE_DRIVER", dbx.SQLite), "database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&o.dsn, "dsn", envOr("DATABASE_DSN", "smartagro.db"), "database DSN")

	root.AddCommand(newMigrateCmd(o), newUserAddCmd(o))
	return root
}

// Execute runs agroctl with os.Args.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// openStore opens the database and applies migrations.
func openStore(ctx context.Context, o *options) (*storeHandle, error) {
	db, err := dbx.Open(ctx, o.driver, o.dsn)
	if err != nil {
		return nil, err
	}
	rm, err := repomanager.NewRepositoryManager(o.driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}
	return &storeHandle{db: db, rm: rm}, nil
}

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openStore(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer h.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newUserAddCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "useradd USERNAME",
		Short: "Register a user",
		Long: `Register a user in the credential store.

The password is prompted for without echo, or read from the first line of
standard input when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserAdd(cmd.Context(), o, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.hasher, "hasher", cryptox.AlgBcrypt, "password hasher (bcrypt or argon2id)")
	cmd.Flags().IntVar(&o.cost, "cost", 12, "bcrypt cost")
	return cmd
}

func runUserAdd(ctx context.Context, o *options, username string, in io.Reader, out io.Writer) error {
	hasher, err := cryptox.NewHasher(o.hasher, o.cost)
	if err != nil {
		return err
	}

	fd := -1
	if f, ok := in.(*os.File); ok {
		fd = int(f.Fd())
	}
	pw, err := getPassword(fd, in, out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	h, err := openStore(ctx, o)
	if err != nil {
		return err
	}
	defer h.Close()

	us := services.NewUserService(h.db, h.rm, hasher, nil, logging.Nop())
	u, err := us.Signup(ctx, username, string(pw))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "user %s created (id %d)\n", u.UserName, u.ID)
	return nil
}
