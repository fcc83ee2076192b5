package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"userdir.org/internal/migrate"
	"userdir.org/internal/store/sqlstore"
)

const usage = "usage: migrate [-driver pgx|sqlite] [-dsn DSN] [-timeout 30s] up|down|seed|status"

func main() {
	log.SetFlags(0)
	driver := flag.String("driver", envOr("USERDIR_DB_DRIVER", sqlstore.DriverPostgres), "database driver: pgx or sqlite")
	dsn := flag.String("dsn", os.Getenv("USERDIR_DB_DSN"), "database DSN")
	timeout := flag.Duration("timeout", 30*time.Second, "deadline for the whole command")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or USERDIR_DB_DSN")
	}
	if flag.NArg() != 1 {
		log.Fatal(usage)
	}

	st, err := sqlstore.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("open %s: %v", *driver, err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, migrate.NewManager(st.DB(), migrate.Migrations(), migrate.Seeds()), flag.Arg(0)); err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string) error {
	switch cmd {
	case "up":
		return mgr.Up(ctx)
	case "down":
		return mgr.Down(ctx)
	case "seed":
		return mgr.Seed(ctx)
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			return err
		}
		pending, err := mgr.Pending(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Println("applied ", name)
		}
		for _, name := range pending {
			fmt.Println("pending ", name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
