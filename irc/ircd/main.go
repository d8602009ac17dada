package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/presbrey/ircd/irc/admind"
	"github.com/presbrey/ircd/irc/config"
	"github.com/presbrey/ircd/irc/server"
)

const (
	exitOK       = 0
	exitUsage    = 1
	exitInit     = 2
	exitValidate = 3
)

func main() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Startup panic: %v", r)
			code = exitValidate
		}
	}()

	fs := flag.NewFlagSet("ircd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: ircd [flags] <port> <password>")
		fs.PrintDefaults()
	}
	configFile := fs.String("config", "", "Configuration file or URL (yaml, toml or json)")
	adminAddr := fs.String("admin", "", "Admin HTTP bind address, empty disables")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return exitValidate
	}

	port, err := config.ParsePort(fs.Arg(0))
	if err != nil {
		log.Printf("Invalid port: %v", err)
		return exitValidate
	}
	cfg.Server.Port = port
	cfg.Server.Password = fs.Arg(1)
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}
	if *debug {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid configuration: %v", err)
		return exitValidate
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Printf("Failed to create server: %v", err)
		return exitInit
	}
	if err := srv.Listen(); err != nil {
		log.Printf("Failed to start server: %v", err)
		return exitInit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Addr != "" {
		admin := admind.New(srv)
		if _, err := admin.Start(cfg.Admin.Addr); err != nil {
			log.Printf("Failed to start admin server: %v", err)
			return exitInit
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := admin.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error stopping admin server: %v", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Server error: %v", err)
		return exitInit
	}

	log.Println("Shutdown complete")
	return exitOK
}
