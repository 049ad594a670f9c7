// Command mailclerkd is the service daemon: serve starts the HTTP
// surface, the scheduler and the worker pool together; doctor checks
// that the daemon's dependencies (database, Redis, mail provider,
// classifier) are reachable before a deploy, grounded on the teacher's
// neuralmaild/neuralmail entry points.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"mailclerk/internal/app"
	"mailclerk/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	cfg, err := config.Load(os.Getenv("MC_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		runServe(ctx, cfg)
	case "doctor":
		doctor(cfg)
	default:
		usage()
	}
}

func runServe(ctx context.Context, cfg config.Config) {
	appInstance, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("app init error: %v", err)
	}
	defer appInstance.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return appInstance.Run(groupCtx)
	})
	group.Go(func() error {
		log.Printf("mailclerkd serving on %s", cfg.HTTP.Addr)
		return appInstance.Serve(groupCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("server error: %v", err)
	}
}

func doctor(cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	checks := []struct {
		Name string
		Fn   func() error
	}{
		{"database", func() error { return pingDatabase(ctx, cfg.Database.DSN) }},
		{"redis", func() error { return pingTCP(cfg.Redis.URL) }},
		{"mail_provider", func() error { return pingHTTP(cfg.MailProvider.BaseURL) }},
		{"classifier", func() error { return pingHTTP(cfg.Classifier.BaseURL) }},
	}
	for _, check := range checks {
		if err := check.Fn(); err != nil {
			fmt.Printf("%s: FAIL (%v)\n", check.Name, err)
			continue
		}
		fmt.Printf("%s: OK\n", check.Name)
	}
}

func pingDatabase(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

func pingTCP(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("missing url")
	}
	host := rawURL
	if strings.Contains(rawURL, "://") {
		parts := strings.Split(rawURL, "://")
		host = parts[len(parts)-1]
	}
	if strings.Contains(host, "/") {
		host = strings.Split(host, "/")[0]
	}
	if !strings.Contains(host, ":") {
		host += ":6379"
	}
	conn, err := net.DialTimeout("tcp", host, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

func pingHTTP(url string) error {
	if url == "" {
		return fmt.Errorf("missing url")
	}
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func usage() {
	fmt.Println("Usage: mailclerkd <serve|doctor>")
}
