package main

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mgx-dev/mgx/internal/broadcast"
	"github.com/mgx-dev/mgx/internal/cache"
	"github.com/mgx-dev/mgx/internal/config"
	"github.com/mgx-dev/mgx/internal/executor"
	"github.com/mgx-dev/mgx/internal/llm"
	"github.com/mgx-dev/mgx/internal/metrics"
	"github.com/mgx-dev/mgx/internal/server"
	"github.com/mgx-dev/mgx/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath  string
		addr     string
		logsRoot string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			slog.SetDefault(logger)

			cfg := config.Default()
			if cfgPath != "" {
				var err error
				cfg, err = config.Load(cfgPath)
				if err != nil {
					return err
				}
			}

			client, err := llm.NewFromEnv()
			if err != nil {
				return err
			}

			backend := cfg.CacheBackend
			if !cfg.EnableCaching {
				backend = cache.BackendNull
			}
			c, err := cache.New(backend, cfg.CacheMaxEntries, cfg.CacheTTL(), cfg.RemoteURL, logger)
			if err != nil {
				return err
			}

			st := store.NewMemoryStore()
			bus := broadcast.New(cfg.SubscriberQueueCapacity)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			reg.MustRegister(metrics.NewCacheCollector(c))
			reg.MustRegister(metrics.NewBroadcastCollector(bus))

			exec := executor.New(st, bus, c, client, cfg, logger)
			exec.Metrics = metrics.New(reg)
			exec.LogsRoot = logsRoot

			srv := server.New(server.Config{Addr: addr}, exec, st, bus, reg, logger)
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&logsRoot, "logs-root", defaultLogsRoot(), "directory for per-run artifact mirrors")
	return cmd
}
