package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/config"
	"library-lending/library"
	"library-lending/web"
)

type app struct {
	cfg     config.Config
	dbPath  string
	staffAs string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "librarian",
		Short:         "Library lending: catalog, carts and circulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if a.dbPath != "" {
				cfg.DBPath = a.dbPath
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides LIBRARY_DB_PATH)")

	root.AddCommand(
		a.serveCmd(),
		a.createStaffCmd(),
		a.resetPasswordCmd(),
		a.listBooksCmd(),
		a.listCartsCmd(),
		a.issueCmd(),
		a.returnCmd(),
		a.borrowersCmd(),
	)
	return root
}

func (a *app) openManager() (*library.LibraryManager, error) {
	mgr, err := library.NewLibraryManager(a.cfg.DBPath,
		library.WithLogger(a.cfg.StderrLogger()),
		library.WithBooksAvailableByDefault(a.cfg.BooksAvailableByDefault),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return mgr, nil
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequireSecret(); err != nil {
				return err
			}
			mgr, err := a.openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			log := a.cfg.StderrLogger()
			srv := web.New(mgr, web.NewTokens(a.cfg.JWTSecret, a.cfg.TokenTTL), web.Options{
				CORSOrigins:    a.cfg.CORSOrigins,
				LoginRateLimit: a.cfg.LoginRateLimit,
				RequestTimeout: a.cfg.RequestTimeout,
				Logger:         log,
				AccessLog:      os.Stdout,
			})

			errc := make(chan error, 1)
			go func() { errc <- srv.Listen(a.cfg.HTTPAddr) }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errc:
				return err
			case sig := <-quit:
				log.Info("shutting down", "signal", sig.String())
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// authenticateStaff prompts for the password of the --as account and returns
// its actor. The library rejects the actor later if it lacks the staff role.
func (a *app) authenticateStaff(ctx context.Context, mgr *library.LibraryManager) (library.Actor, error) {
	if a.staffAs == "" {
		return library.Actor{}, errors.New("--as is required")
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", a.staffAs))
	if err != nil {
		return library.Actor{}, fmt.Errorf("failed to read password: %w", err)
	}
	u, err := mgr.Authenticate(ctx, a.staffAs, password)
	if err != nil {
		return library.Actor{}, err
	}
	return library.ActorFor(u), nil
}

func (a *app) staffFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.staffAs, "as", "", "e-mail of the staff account performing the action")
}

// truncateString shortens s to maxLength runes, marking the cut with "...".
func truncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	return string(r[:maxLength-3]) + "..."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
