package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/resultportal/internal/adapters/repository"
	"github.com/okian/resultportal/internal/cli"
)

var version = "dev"

const migrateMaxOpen = 2

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	deps := cli.Dependencies{
		NewAPI:  cli.DefaultNewAPI,
		Migrate: migrate,
		Stdin:   os.Stdin,
		Version: version,
	}
	code := cli.Execute(ctx, os.Args[1:], deps, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func migrate(ctx context.Context, dsn string) error {
	db, err := repository.Open(ctx, dsn, migrateMaxOpen)
	if err != nil {
		return err
	}
	store := repository.NewPostgresStore(db)
	defer store.Close()
	return store.EnsureSchema(ctx)
}
