package main

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/arena-auth/internal/client/api"
	"github.com/and161185/arena-auth/internal/client/authstate"
	"github.com/and161185/arena-auth/internal/client/session"
	"github.com/and161185/arena-auth/internal/config"
)

// globals are the persistent flags; set values win over the environment.
type globals struct {
	apiURL    string
	timeout   time.Duration
	configDir string
	verbose   bool
}

type app struct {
	m     *authstate.Machine
	store *session.FileStore
	log   *zap.Logger
	out   io.Writer
}

func (g *globals) app(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.APIURL = g.apiURL
	}
	if g.timeout > 0 {
		cfg.Timeout = g.timeout
	}
	if g.configDir != "" {
		cfg.ConfigDir = g.configDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := zap.NewNop()
	if g.verbose {
		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		zc.OutputPaths = []string{"stderr"}
		if log, err = zc.Build(); err != nil {
			return nil, err
		}
	}

	client, err := api.New(cfg.APIURL, cfg.Timeout, nil)
	if err != nil {
		return nil, err
	}
	store := session.NewFileStore(cfg.ConfigDir)
	log.Debug("client config", zap.String("api", cfg.APIURL), zap.String("session", store.Path()))

	return &app{
		m:     authstate.New(client, store, authstate.Options{Timeout: cfg.Timeout, Log: log}),
		store: store,
		log:   log,
		out:   cmd.OutOrStdout(),
	}, nil
}

func (a *app) close() { _ = a.log.Sync() }

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// readPassword returns flag, or the first line of stdin when flag is "-".
func readPassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "-" {
		return flag, nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimRight(line, "\r"), nil
}
