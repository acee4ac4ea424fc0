// Command pubble-useradd creates an account in a SQL user store, or prints
// a password hash for BOOTSTRAP_ADMIN_PASSWORD_HASH.
//
//	pubble-useradd -username alice -role USER -store sqlite -dsn pubble.db
//	pubble-useradd -hash-only
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/internal/config"
	"github.com/pubble-team/pubbleauth/internal/database"
	"github.com/pubble-team/pubbleauth/password"
	"github.com/pubble-team/pubbleauth/users"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pubble-useradd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("pubble-useradd", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		username  = fs.String("username", "", "account username")
		role      = fs.String("role", pubbleauth.RoleUser, "USER or ADMIN")
		store     = fs.String("store", envOr("USER_STORE", config.StoreSQLite), "user store: postgres or sqlite")
		dsn       = fs.String("dsn", "", "connection string; defaults to DATABASE_URL or SQLITE_PATH")
		algorithm = fs.String("algorithm", envOr("PASSWORD_ALGORITHM", string(password.AlgorithmBcrypt)), "bcrypt or argon2id")
		cost      = fs.Int("bcrypt-cost", 12, "bcrypt cost")
		hashOnly  = fs.Bool("hash-only", false, "print the hash and exit without touching a store")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := password.New(password.Config{
		Algorithm:  password.Algorithm(strings.ToLower(*algorithm)),
		BcryptCost: *cost,
		Argon2:     password.DefaultArgon2Config(),
	})
	if err != nil {
		return err
	}

	pw, err := promptPassword(stdin, stdout)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		return err
	}
	if *hashOnly {
		_, err := fmt.Fprintln(stdout, hash)
		return err
	}

	if strings.TrimSpace(*username) == "" {
		return errors.New("-username is required")
	}
	if *store != config.StorePostgres && *store != config.StoreSQLite {
		return fmt.Errorf("unsupported store %q", *store)
	}
	if *dsn == "" {
		*dsn = (&config.Config{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			SQLitePath:  envOr("SQLITE_PATH", "pubble.db"),
		}).DSN(*store)
	}

	dialect := config.Dialect(*store)
	db, err := database.OpenAndMigrate(ctx, dialect, *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	u, err := users.NewSQLProvider(db, dialect, time.Now).Create(ctx, pubbleauth.UserRecord{
		Username:     *username,
		PasswordHash: hash,
		Role:         strings.ToUpper(*role),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "created %s (%s) id=%s\n", u.Username, u.Role, u.UserID)
	return err
}

// promptPassword reads without echo from a terminal and asks twice. Piped
// input is read as a single line.
func promptPassword(stdin io.Reader, w io.Writer) (string, error) {
	f, ok := stdin.(*os.File)
	if !ok || !isTerminal(int(f.Fd())) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(w, "Enter password: ")
	first, err := readPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
