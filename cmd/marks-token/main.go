// marks-token mints a session token for a user against the configured
// backend. Sign-in happens outside marks: an operator (or an identity
// provider hook) runs this and hands the token to the browser, which stores
// it in the marks_session cookie.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/MrSnakeDoc/marks/internal/app"
	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/sources/homepage"
	"github.com/MrSnakeDoc/marks/internal/utils"
	"github.com/MrSnakeDoc/marks/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ marks-token: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		userID     string
		email      string
		importFile string
		timeout    time.Duration
	)

	flagSet := pflag.NewFlagSet("marks-token", pflag.ContinueOnError)
	flagSet.StringVarP(&userID, "user", "u", "", "user id the session belongs to (required)")
	flagSet.StringVarP(&email, "email", "e", "", "email shown on the dashboard")
	flagSet.StringVar(&importFile, "import", "", "also import a Homepage bookmarks.yaml for this user")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "give up connecting to the backend after this long")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Println(version.String("marks-token"))
		return nil
	}
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	cfg := config.Load()
	log := logger.New("warn", false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer utils.Close(b)

	id := domain.Identity{ID: userID, Email: email}

	if importFile != "" {
		n, err := importBookmarks(ctx, b, importFile, userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "imported %d bookmarks\n", n)
	}

	token, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL, b).Issue(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func importBookmarks(ctx context.Context, store backend.Store, path, owner string) (int, error) {
	file, err := homepage.LoadFile(path)
	if err != nil {
		return 0, err
	}
	payloads, err := homepage.ToNewBookmarks(file, owner)
	if err != nil {
		return 0, err
	}
	for i, nb := range payloads {
		if _, err := store.Insert(ctx, nb); err != nil {
			return i, fmt.Errorf("failed to import %s: %w", nb.URL, err)
		}
	}
	return len(payloads), nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `marks-token mints a dashboard session token.

Reads the same MARKS_* environment as the server (backend, JWT secret,
session TTL) and prints the token on stdout.

Usage:
  marks-token --user <id> [flags]

Examples:
  # Token for alice
  marks-token --user alice --email alice@example.com

  # Seed alice's list from Homepage before handing out the token
  marks-token --user alice --import ./bookmarks.yaml

Flags:
`)
	flagSet.PrintDefaults()
}
