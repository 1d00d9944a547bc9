// Package main содержит CLI для обслуживания authgate.
//
// Использование:
//
//	auth-maint [-config file] <command> [flags]
//
// Команды:
//
//	migrate                                   применить схему БД
//	purge-attempts   [-retention-days N]      удалить старые попытки входа
//	cleanup-sessions [-timeout-minutes N] [-delete-old] [-days-to-keep N]
//	grant-staff      -username NAME [-revoke] выдать или снять права staff
//	set-active       -username NAME -active=BOOL
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/r2r72/authgate/internal/config"
	"github.com/r2r72/authgate/internal/repository/pg"
	"github.com/r2r72/authgate/internal/service/auth"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("❌ database.url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.NewDB(ctx, cfg.Database.URL, pg.PoolConfig{MaxConns: 2, MinConns: 1})
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	defer db.Close()

	repo := pg.NewRepository(db)
	m := &maint{
		sessions:   auth.NewSessionRegistry(repo, nil, cfg.Service(), nil),
		sweeper:    auth.NewSweeper(auth.NewLedger(repo, nil), cfg.Service(), nil),
		identities: repo,
		migrate:    func(ctx context.Context) error { return pg.Migrate(ctx, db) },
		retention:  cfg.Service().Retention,
		out:        os.Stdout,
	}

	if err := m.run(ctx, flag.Args()); err != nil {
		log.Fatalf("❌ %s: %v", flag.Arg(0), err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-config file] <migrate|purge-attempts|cleanup-sessions|grant-staff|set-active> [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
