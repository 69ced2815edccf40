// Command tripcmsctl performs administrative tasks against the CMS
// database directly, without going through the HTTP API.
//
// Usage:
//
//	tripcmsctl create-user -username admin -email admin@example.com [-role super_admin] [-inactive]
//
// The password is read from TRIPCMS_PASSWORD when set, otherwise prompted
// for twice on the terminal. Database settings come from the same
// environment variables as the server.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/sakif/tripcms/internal/auth"
	"github.com/sakif/tripcms/internal/config"
	"github.com/sakif/tripcms/internal/model"
	"github.com/sakif/tripcms/internal/server"
	"github.com/sakif/tripcms/internal/service"
)

const passwordEnv = "TRIPCMS_PASSWORD"

// readPassword is swapped out in tests.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

var errUsage = errors.New("usage: tripcmsctl create-user -username <name> [-email <addr>] [-role <role>] [-inactive]")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create-user":
		return createUser(ctx, args[1:], out)
	case "-h", "--help", "help":
		fmt.Fprintln(out, errUsage.Error())
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

func createUser(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(out)
	username := fs.String("username", "", "account username (required)")
	email := fs.String("email", "", "account email, used for password resets")
	role := fs.String("role", string(model.RoleSuperAdmin), "one of viewer, media_manager, content_editor, trip_admin, super_admin")
	inactive := fs.Bool("inactive", false, "create the account deactivated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errUsage
	}
	parsedRole, err := model.ParseRole(*role)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	password, err := obtainPassword(out)
	if err != nil {
		return err
	}

	store, err := server.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	hasher := auth.NewHashPool(auth.NewPasswordService(auth.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
	}), 1, logger)
	users := service.NewUserService(store, hasher, service.LogAuditSink{Logger: logger}, logger)

	active := !*inactive
	user, err := users.Create(ctx, service.SystemActor, service.CreateUserInput{
		Username: *username,
		Password: password,
		Email:    *email,
		Role:     parsedRole,
		IsActive: &active,
	})
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Fprintf(out, "created %s %q (id %s)\n", user.Role, user.Username, user.ID)
	return nil
}

func obtainPassword(out io.Writer) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(out, "Password: ")
	first, err := readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Fprint(out, "Repeat password: ")
	second, err := readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
