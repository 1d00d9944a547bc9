// Package main запускает HTTP-сервис authgate.
//
// Возможности:
//   - Регистрация и вход по логину или email
//   - Блокировка по скользящему окну после серии неудачных попыток
//   - Учёт сессий с таймаутом бездействия и лимитом на пользователя
//   - Очистка журнала попыток входа без отдельного планировщика
//
// Конфигурация: необязательный YAML-файл и переменные AUTHGATE_*.
//
// Запуск:
//
//	AUTHGATE_JWT_SECRET=... go run . -config config.yaml
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r2r72/authgate/cmd/auth-service/handlers"
	"github.com/r2r72/authgate/internal/config"
	"github.com/r2r72/authgate/internal/repository/blacklist"
	"github.com/r2r72/authgate/internal/repository/memory"
	"github.com/r2r72/authgate/internal/repository/pg"
	"github.com/r2r72/authgate/internal/service/auth"
)

// 🔑 Проверка на этапе компиляции: репозитории реализуют контракты сервиса.
var (
	_ auth.Store       = (*pg.Repository)(nil)
	_ auth.Blacklister = (*blacklist.RedisBlacklist)(nil)
	_ auth.Blacklister = (*memory.Blacklist)(nil)
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Хранилище ===
	var store auth.Store
	switch cfg.Database.Driver {
	case "memory":
		log.Println("⚠️ Using in-memory storage, data is lost on restart")
		store = memory.NewStore()
	default:
		db, err := pg.NewDB(ctx, cfg.Database.URL, cfg.Pool())
		if err != nil {
			log.Fatalf("❌ Failed to connect to DB: %v", err)
		}
		defer db.Close()

		if err := pg.Migrate(ctx, db); err != nil {
			log.Fatalf("❌ Failed to migrate: %v", err)
		}
		store = pg.NewRepository(db)
	}

	// === Чёрный список токенов ===
	var bl auth.Blacklister
	if cfg.Redis.Addr != "" {
		rdb, err := blacklist.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		bl = blacklist.New(rdb, "")
	} else {
		log.Println("⚠️ redis.addr not set, token blacklist is per process")
		bl = memory.NewBlacklist(nil)
	}

	svcCfg := cfg.Service()
	authSvc := auth.NewAuthService(store, bl, []byte(cfg.JWT.Secret), svcCfg)

	// Страховочная очистка, не зависит от входов.
	go authSvc.Sweeper().Run(ctx, svcCfg.SweepInterval)

	// === HTTP-сервер ===
	mux := http.NewServeMux()
	handlers.RegisterAuthRoutes(mux, authSvc)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Auth Service started on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("⏳ Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server shutdown failed: %v", err)
	}

	log.Println("✅ Auth Service stopped")
}
