// HMS Console - session layer for the hostel management admin console.
//
// hmsconsole keeps one authenticated session against the HMS backend:
// it logs operators in, renews credentials before and after they expire,
// and publishes session events to the configured sinks.
//
// Usage:
//
//	hmsconsole [-config path] shell   interactive session (login, whoami, get, ...)
//	hmsconsole [-config path] serve   headless session with the local status API
//	hmsconsole [-config path] watch   follow session events of every console over MQTT
//	hmsconsole version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path, used when it exists.
const defaultConfigPath = "configs/config.yaml"

// errUsage marks command line mistakes; main exits with status 2 for them.
var errUsage = errors.New("usage error")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run parses the command line and dispatches to a command. It returns when
// the command finishes or ctx is cancelled.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("hmsconsole", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "configuration file (default $HMS_CONFIG or "+defaultConfigPath+")")
	user := fs.String("user", "", "serve: log in as this user when no session survives boot (password from $HMS_PASSWORD)")
	fs.Usage = func() {
		fmt.Fprintln(out, "usage: hmsconsole [flags] {shell|serve|watch|version}")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("%w: exactly one command expected", errUsage)
	}

	cmd := fs.Arg(0)
	if cmd == "version" {
		fmt.Fprintf(out, "hmsconsole %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	switch cmd {
	case "shell":
		return runConsole(ctx, cfg, consoleOptions{in: in, out: out, interactive: true})
	case "serve":
		return runConsole(ctx, cfg, consoleOptions{out: out, user: *user, password: os.Getenv("HMS_PASSWORD")})
	case "watch":
		return runWatch(ctx, cfg, out)
	default:
		fs.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}
