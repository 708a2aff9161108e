package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, stdio IO) error {
	c := NewConfig()

	configFile, err := FindConfigFile(getenv, args)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if err := c.LoadFile(configFile); err != nil {
		return fmt.Errorf("error while loading config file: %w", err)
	}
	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env file: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return fmt.Errorf("error while loading env: %w", err)
	}

	cmdArgs, err := c.ParseFlags(args)
	switch {
	case errors.Is(err, pflag.ErrHelp):
		printUsage(stdio.Out)
		return nil
	case err != nil:
		return fmt.Errorf("%w: %w", errUsage, err)
	case len(cmdArgs) == 0:
		printUsage(stdio.Err)
		return fmt.Errorf("%w: command is required", errUsage)
	}

	app, err := NewApp(ctx, c, stdio)
	if err != nil {
		return err
	}
	defer app.Close() // nolint:errcheck

	return app.Run(ctx, cmdArgs)
}

func main() {
	// Initialize context that cancelled on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], StdIO())
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "folio:", err)
	if errors.Is(err, errUsage) {
		cancel()
		os.Exit(2)
	}
	cancel()
	os.Exit(1)
}
