// Package commands implements the chatcli subcommands.
package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lalith-99/dmstream/internal/client"
)

type Flags struct {
	Server    string
	Token     string
	TokenFile string
	LogLevel  string

	// Logger is built in the Before hook and available to all commands.
	Logger *zap.Logger
}

// DefaultTokenFile returns the token path under XDG_CONFIG_HOME.
func DefaultTokenFile() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "dmstream", "token")
}

// remote returns a client for the configured server, authenticated with
// --token or else the saved token file.
func (f *Flags) remote(requireToken bool) (*client.Remote, error) {
	token := f.Token
	if token == "" {
		raw, err := os.ReadFile(f.TokenFile)
		switch {
		case err == nil:
			token = strings.TrimSpace(string(raw))
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read token file: %w", err)
		}
	}
	if requireToken && token == "" {
		return nil, fmt.Errorf("not logged in; run 'chatcli login' or pass --token")
	}
	return client.NewRemote(f.Server, token, f.Logger)
}

func (f *Flags) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.TokenFile), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(f.TokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}
