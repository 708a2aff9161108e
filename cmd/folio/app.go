package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/soboure69/My-Portefolio-data-science/internal/apiclient"
	"github.com/soboure69/My-Portefolio-data-science/internal/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/storage"
)

// IO is where commands read input and write output.
// Stdout gets command results only, logs and events go to Err
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

func StdIO() IO {
	return IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

type App struct {
	cfg     *Config
	io      IO
	in      *bufio.Reader
	log     logger.Logger
	client  *apiclient.Client
	session *auth.Session
	store   storage.Store

	unsubscribe []func()
}

func NewApp(ctx context.Context, cfg *Config, stdio IO) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}

	log, err := logger.NewForWriter(stdio.Err, cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	client, err := apiclient.New(cfg.Client, apiclient.WithLogger(log.WithGroup("client")))
	if err != nil {
		return nil, err
	}

	dsn, err := cfg.StorageDSN(os.UserConfigDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}

	session, err := auth.New(client, store, cfg.Auth, auth.WithLogger(log.WithGroup("session")))
	if err != nil {
		store.Close() // nolint:errcheck
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		io:      stdio,
		in:      bufio.NewReader(stdio.In),
		log:     log,
		client:  client,
		session: session,
		store:   store,
	}

	if cfg.Events {
		app.printEvents()
	}

	if err := session.Load(ctx); err != nil {
		app.Close() // nolint:errcheck
		return nil, fmt.Errorf("load session: %w", err)
	}

	log.Debug("session loaded", "storage", dsn, "state", session.State())
	return app, nil
}

// printEvents writes one line per client and session event to stderr
func (a *App) printEvents() {
	a.unsubscribe = append(a.unsubscribe,
		a.client.Subscribe(apiclient.ObserverFunc(func(e apiclient.Event) {
			line := fmt.Sprintf("%s %s %s", e.Kind, e.Method, e.URL)
			if e.Status != 0 {
				line += fmt.Sprintf(" %d", e.Status)
			}
			if e.Err != nil {
				line += " error=" + e.Err.Error()
			}
			fmt.Fprintln(a.io.Err, line)
		})),
		a.session.Subscribe(auth.ObserverFunc(func(e auth.Event) {
			fmt.Fprintf(a.io.Err, "session:%s state=%s\n", e.Kind, e.State)
		})),
	)
}

func (a *App) Close() error {
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	a.client.CancelAll()
	return a.store.Close()
}

// Run executes command with its arguments
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: command is required", errUsage)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	a.log.Debug("running command", "command", args[0])
	return cmd.run(ctx, a, args[1:])
}

// readLine prints prompt to stderr and reads one line
func (a *App) readLine(prompt string) (string, error) {
	fmt.Fprint(a.io.Err, prompt)

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads without echo when input is a terminal
func (a *App) readPassword(prompt string) (string, error) {
	f, ok := a.io.In.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return a.readLine(prompt)
	}

	fmt.Fprint(a.io.Err, prompt)
	password, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.io.Err)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}
