// Command gensecret prints a random key for the dev server SECRET_KEY
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultKeyBytes = 32

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "n", defaultKeyBytes, "Key length in bytes")
	format := fs.StringP("format", "f", "hex", "Output format (hex, base64)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *size < 16 {
		return fmt.Errorf("key of %d bytes is too short, 16 at least", *size)
	}

	b := make([]byte, *size)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("error while generating secret key: %w", err)
	}

	var key string
	switch *format {
	case "hex":
		key = hex.EncodeToString(b)
	case "base64":
		key = base64.RawURLEncoding.EncodeToString(b)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	_, err := fmt.Fprintln(stdout, key)
	return err
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "gensecret:", err)
		os.Exit(1)
	}
}
