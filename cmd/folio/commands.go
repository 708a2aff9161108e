package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/soboure69/My-Portefolio-data-science/internal/apiclient"
	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/auth"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
)

// errUsage marks errors caused by wrong invocation. Exit code 2
var errUsage = errors.New("usage error")

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, a *App, args []string) error
}

var commands = map[string]command{
	"login": {
		usage:   "login [--email EMAIL]",
		summary: "Log in, password is prompted",
		run:     runLogin,
	},
	"logout": {
		usage:   "logout",
		summary: "End the session on the server and locally",
		run:     runLogout,
	},
	"me": {
		usage:   "me",
		summary: "Fetch profile of the current user",
		run:     runMe,
	},
	"status": {
		usage:   "status",
		summary: "Show stored session without calling the API",
		run:     runStatus,
	},
	"request": {
		usage:   "request METHOD ENDPOINT [--data JSON] [--query k=v]... [--header 'K: V']...",
		summary: "Send an authorized request and print response body",
		run:     runRequest,
	},
	"download": {
		usage:   "download URL [--output FILE|-]",
		summary: "Save a file, authorized when logged in",
		run:     runDownload,
	},
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [global flags] COMMAND [flags]\n\nCommands:\n", appName)

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "  %-60s %s\n", commands[name].usage, commands[name].summary)
	}
}

func newCommandFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func usageErr(err error) error {
	return fmt.Errorf("%w: %w", errUsage, err)
}

func runLogin(ctx context.Context, a *App, args []string) error {
	fs := newCommandFlags("login")
	email := fs.StringP("email", "e", "", "Account email")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}

	var err error
	if *email == "" {
		if *email, err = a.readLine("Email: "); err != nil {
			return err
		}
	}
	password, err := a.readPassword("Password: ")
	if err != nil {
		return err
	}

	user, err := a.session.Login(ctx, models.Credentials{Email: strings.TrimSpace(*email), Password: password})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.io.Out, "Logged in as %s\n", user.Email)
	return nil
}

func runLogout(ctx context.Context, a *App, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: logout takes no arguments", errUsage)
	}

	if !a.session.IsAuthenticated() {
		fmt.Fprintln(a.io.Out, "Not logged in")
		return nil
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}

	fmt.Fprintln(a.io.Out, "Logged out")
	return nil
}

func runMe(ctx context.Context, a *App, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: me takes no arguments", errUsage)
	}

	user, err := a.session.FetchUser(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.io.Out, user)
}

func runStatus(_ context.Context, a *App, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: status takes no arguments", errUsage)
	}

	fmt.Fprintf(a.io.Out, "state: %s\n", a.session.State())

	if user := a.session.User(); user != nil {
		fmt.Fprintf(a.io.Out, "user: %s (%s)\n", user.Email, user.ID)
		if len(user.Roles) > 0 {
			fmt.Fprintf(a.io.Out, "roles: %s\n", strings.Join(user.Roles, ", "))
		}
	}

	token := a.session.Token()
	if token == "" {
		return nil
	}

	exp, err := auth.TokenExpiry(token)
	switch {
	case errors.Is(err, apperrors.ErrTokenNoExpiry):
		fmt.Fprintln(a.io.Out, "token expires: never")
	case err != nil:
		fmt.Fprintln(a.io.Out, "token expires: unknown")
	default:
		left := time.Until(exp).Round(time.Second)
		if left > 0 {
			fmt.Fprintf(a.io.Out, "token expires: %s (in %s)\n", exp.Format(time.RFC3339), left)
		} else {
			fmt.Fprintf(a.io.Out, "token expires: %s (expired)\n", exp.Format(time.RFC3339))
		}
	}
	return nil
}

func runRequest(ctx context.Context, a *App, args []string) error {
	fs := newCommandFlags("request")
	data := fs.StringP("data", "d", "", "JSON payload. Sent as query parameters for GET")
	query := fs.StringArrayP("query", "q", nil, "Query parameter k=v. Repeatable")
	headers := fs.StringArrayP("header", "H", nil, "Request header 'Name: value'. Repeatable")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: want METHOD ENDPOINT", errUsage)
	}

	req := apiclient.Request{Method: fs.Arg(0), Endpoint: fs.Arg(1)}

	if *data != "" {
		if !json.Valid([]byte(*data)) {
			return fmt.Errorf("%w: --data is not valid JSON", errUsage)
		}
		req.Payload = json.RawMessage(*data)
	}

	q, err := parseQuery(*query)
	if err != nil {
		return usageErr(err)
	}
	req.Options.Query = q

	h, err := parseHeaders(*headers)
	if err != nil {
		return usageErr(err)
	}
	req.Options.Headers = h

	resp, err := a.session.Do(ctx, req)
	if err != nil {
		return err
	}
	return writeBody(a.io.Out, resp.Body)
}

func runDownload(ctx context.Context, a *App, args []string) (err error) {
	fs := newCommandFlags("download")
	output := fs.StringP("output", "o", "", "Target file, '-' for stdout. Defaults to the last URL segment")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: want URL", errUsage)
	}

	rawURL := fs.Arg(0)
	target := *output
	if target == "" {
		target = apiclient.FilenameFromURL(rawURL)
	}

	if token := a.session.Token(); token != "" {
		a.client.SetHeader(a.cfg.Auth.TokenHeader, a.cfg.Auth.TokenPrefix+token)
	}

	if target == "-" {
		_, err := a.client.Download(ctx, rawURL, a.io.Out)
		return err
	}

	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(target) // nolint:errcheck
		}
	}()

	n, err := a.client.Download(ctx, rawURL, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.io.Err, "Saved %d bytes to %s\n", n, target)
	return nil
}

// parseQuery parses "k=v" items
func parseQuery(items []string) (url.Values, error) {
	if len(items) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("query %q: want k=v", item)
		}
		q.Add(key, value)
	}
	return q, nil
}

// parseHeaders parses "Name: value" items
func parseHeaders(items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	headers := make(map[string]string, len(items))
	for _, item := range items {
		name, value, ok := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("header %q: want 'Name: value'", item)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeBody pretty prints JSON bodies, anything else goes out as is
func writeBody(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return nil
	}

	if json.Valid(body) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			buf.WriteByte('\n')
			_, err = w.Write(buf.Bytes())
			return err
		}
	}

	_, err := w.Write(body)
	return err
}
