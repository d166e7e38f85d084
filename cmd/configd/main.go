// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// configd is the datastore core daemon: it brings up the Datastore
// Layer, Validator, Plugin Registry, Transaction Engine, Startup
// Orchestrator and RPC Dispatcher, then serves requests until signaled
// to stop. Flag and subcommand handling follows cmd/warren/main.go's
// cobra rootCmd pattern (bring up the same dependency graph the
// teacher's cmd/configd/main.go builds by hand with the flag package);
// bring-up order and exit codes are grounded on the teacher's
// cmd/configd/main.go main().
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/danos/configd/internal/config"
	"github.com/danos/configd/internal/datastore"
	"github.com/danos/configd/internal/logging"
	"github.com/danos/configd/internal/metrics"
	"github.com/danos/configd/internal/plugin"
	"github.com/danos/configd/internal/rpcdispatch"
	"github.com/danos/configd/internal/rpctransport"
	"github.com/danos/configd/internal/schema"
	"github.com/danos/configd/internal/session"
	"github.com/danos/configd/internal/startup"
	"github.com/danos/configd/internal/txengine"
	"github.com/danos/configd/internal/validator"
)

const (
	dbCandidate = "candidate"
	dbRunning   = "running"
)

var (
	configFile   string
	logFile      string
	schemaDir    string
	pluginDir    string
	dbDir        string
	socketFamily string
	socketPath   string
	startupMode  string
	overrides    []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "configd",
	Short: "configd manages run-time configuration against a YANG-defined schema",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to the ini configuration file")
	flags.StringVar(&logFile, "log-file", "", "redirect structured logs to the given file instead of stderr")
	flags.StringVar(&schemaDir, "schema-dir", "", "directory configd loads YANG modules from (overrides config file)")
	flags.StringVar(&pluginDir, "plugin-dir", "", "directory configd loads plugins from (overrides config file)")
	flags.StringVar(&dbDir, "db-dir", "", "directory the Datastore Layer persists databases under (overrides config file)")
	flags.StringVar(&socketFamily, "socket-family", "", "unix, ipv4 or ipv6 (overrides config file)")
	flags.StringVar(&socketPath, "socket-path", "", "socket path or address (overrides config file)")
	flags.StringVar(&startupMode, "startup-mode", "", "none, init, startup or running (overrides config file)")
	flags.StringArrayVar(&overrides, "option", nil, "key=value configuration override, may be repeated")
}

// run wires every component named in the component design and blocks
// serving RPCs until an interrupt or terminate signal arrives. Exit
// code 1 means a configuration error (spec.md §6); exit code 2 means
// the Startup Orchestrator could not reach a safe running state.
func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}

	logOut := os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	gate := logging.NewGate(logOut)
	gate.Set(logging.TypeCommit, logging.LevelDebug)
	gate.Set(logging.TypeStartup, logging.LevelDebug)
	gate.Set(logging.TypeTxn, logging.LevelDebug)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ds := datastore.New(cfg.DBDir, gate)
	if ds.Exists(dbCandidate) == datastore.Absent {
		if err := ds.Create(dbCandidate, false); err != nil {
			gate.Log(logging.LevelError, logging.TypeNone, "create candidate database failed",
				map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}

	// Schema compilation from cfg.SchemaDir is an external collaborator
	// per spec.md §1 ("YANG file loading... assumed available"); absent
	// a real compiler wired in, boot with an empty schema so the
	// Validator and Transaction Engine still have a well-formed,
	// immutable-after-boot SchemaSpec to share.
	spec := schema.NewSpec(schema.NewNode("config", schema.KindContainer), nil, nil)

	v := validator.New(256)
	reg2 := plugin.NewRegistry()
	txe := txengine.New(ds, reg2, v, spec, gate, m)

	so := startup.New(ds, txe, reg2, spec, v, gate, m)
	so.ModstateEnabled = cfg.ModstateEnabled

	mode := startup.Mode(cfg.StartupMode)
	soResult := so.Run(context.Background(), mode)
	if soResult.Outcome == startup.OutcomeUnrecoverable {
		gate.Log(logging.LevelError, logging.TypeStartup, "startup orchestrator could not reach a safe running state",
			map[string]interface{}{"detail": soResult.Detail})
		os.Exit(2)
	}

	if err := ds.Copy(dbRunning, dbCandidate); err != nil {
		gate.Log(logging.LevelError, logging.TypeStartup, "seed candidate from running failed",
			map[string]interface{}{"error": err.Error()})
	}

	sessions := session.NewManager()
	disp := rpcdispatch.New(ds, txe, reg2, sessions, v, spec, gate, m)

	ln, err := rpctransport.Listen(cfg)
	if err != nil {
		gate.Log(logging.LevelError, logging.TypeNone, "listen failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	srv := rpctransport.NewServer(ln, disp, gate)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		gate.Log(logging.LevelDebug, logging.TypeNone, "received signal, shutting down",
			map[string]interface{}{"signal": sig.String()})
		sessions.Shutdown()
		return srv.Close()
	case err := <-serveErrCh:
		return err
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	type override struct{ key, value string }
	flagOverrides := []override{}
	if logFile != "" {
		flagOverrides = append(flagOverrides, override{"log_file", logFile})
	}
	if schemaDir != "" {
		flagOverrides = append(flagOverrides, override{"schema_dir", schemaDir})
	}
	if pluginDir != "" {
		flagOverrides = append(flagOverrides, override{"plugin_dir", pluginDir})
	}
	if dbDir != "" {
		flagOverrides = append(flagOverrides, override{"db_dir", dbDir})
	}
	if socketFamily != "" {
		flagOverrides = append(flagOverrides, override{"socket_family", socketFamily})
	}
	if socketPath != "" {
		flagOverrides = append(flagOverrides, override{"socket_path", socketPath})
	}
	if startupMode != "" {
		flagOverrides = append(flagOverrides, override{"startup_mode", startupMode})
	}
	for _, o := range flagOverrides {
		if err := cfg.ApplyOverride(o.key, o.value); err != nil {
			return nil, err
		}
	}
	for _, kv := range overrides {
		key, value, ok := splitKV(kv)
		if !ok {
			return nil, fmt.Errorf("malformed --option %q, want key=value", kv)
		}
		if err := cfg.ApplyOverride(key, value); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
