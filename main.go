// Package main runs the reference messenger gateway.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/carelink/messenger/internal/gateway"
	"github.com/carelink/messenger/internal/gateway/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Println("Starting gateway...")

	// DB_URL selects the Postgres store; without it the gateway keeps
	// messages in memory, which is enough for local development.
	var st store.Store
	var pool *pgxpool.Pool

	if dbURL := os.Getenv("DB_URL"); dbURL != "" {
		log.Println("Initializing Database connection...")

		var err error
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			log.Fatalf("could not connect to the postgresql database: %v", err)
		}

		if err := migrate(pool); err != nil {
			log.Fatalf("could not apply migrations: %v", err)
		}

		st = store.NewPostgres(pool)
	} else {
		log.Println("DB_URL not set; using in-memory message store")
		st = store.NewMemory()
	}

	srv := gateway.NewServer(st)
	defer srv.Close()

	server := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// No ReadTimeout/WriteTimeout: /ws connections are long-lived
		// and manage their own per-frame deadlines.
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Server starting at 0.0.0.0:%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println(err)
	}

	if pool != nil {
		pool.Close()
	}

	log.Println("Server stopped")
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close() //nolint:errcheck

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "sql/schema")
}
