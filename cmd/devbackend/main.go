package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rackscan/backend"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// CLI serves a local stand-in of the bike-rack API.
type CLI struct {
	Addr     string `help:"Listen address" default:":9090" env:"DEVBACKEND_ADDR"`
	Prefix   string `help:"Path prefix of the API" default:"/bykerack"`
	Email    string `help:"Account email accepted by /auth" required:"" env:"RACKSCAN_AUTH_EMAIL"`
	Password string `help:"Account password accepted by /auth" required:"" env:"RACKSCAN_AUTH_PASSWORD"`
	Cost     int    `help:"bcrypt cost for the stored password hash" default:"10"`
	Debug    bool   `help:"Enable debug logging" env:"DEBUG"`
}

func (c *CLI) Run() error {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if c.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if c.Cost < bcrypt.MinCost || c.Cost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	s := backend.NewServer(backend.NewRackStore(), c.Cost)
	if err := s.AddUser(c.Email, c.Password); err != nil {
		return fmt.Errorf("add user: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           s.Router(c.Prefix),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Addr).Str("prefix", c.Prefix).Msg("devbackend: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Interface("occupancy", s.Store().Snapshot()).Msg("devbackend: stopped")
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("devbackend"),
		kong.Description("Local stand-in of the bike-rack vacancy API."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
