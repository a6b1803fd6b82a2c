package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tunegate/tunegate/pkg/backup"
	"github.com/tunegate/tunegate/pkg/clock"
	"github.com/tunegate/tunegate/pkg/config"
	"github.com/tunegate/tunegate/pkg/logutil"
	"github.com/tunegate/tunegate/pkg/proxy"
	"github.com/tunegate/tunegate/pkg/stats"
)

var (
	serveConfigPath         string
	serveListenAddrOverride string
	serveStatelessOverride  bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrCreateServerConfig(serveConfigPath)
			if err != nil {
				return fmt.Errorf("load server config: %w", err)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("stateless") {
				cfg.Stateless = serveStatelessOverride
			}
			if err := logutil.Configure(cfg.LogLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sqlCfg := stats.SQLConfig{
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				Database: cfg.Database.Name,
				PoolSize: cfg.Database.PoolSize,
			}
			backend, sqlBE := stats.ChooseBackend(ctx, cfg.StatsFilePath(), sqlCfg, cfg.Stateless)
			if sqlBE != nil {
				defer sqlBE.Close()
			}

			backups := backup.NewManager(cfg.BackupDir())
			engine := stats.NewEngine(backend, backups, clock.System())

			srv, err := proxy.NewServer(cfg, engine, sqlBE, backups)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:3000)")
	serveCmd.Flags().BoolVar(&serveStatelessOverride, "stateless", false, "Serve without persisting statistics")
	rootCmd.AddCommand(serveCmd)
}
