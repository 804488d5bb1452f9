// Package cmd provides the CLI commands for ssectl.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sse-rpc/client"
	"sse-rpc/config"
	"sse-rpc/metrics"
	"sse-rpc/registry"
)

var (
	cfgFile string
	v       *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "ssectl",
	Short: "ssectl - client for SSE JSON-RPC tool servers",
	Long: `ssectl connects to a tool server that streams JSON-RPC responses over
server-sent events and accepts requests by HTTP POST.

Configuration:
  Config is loaded from ssectl.yaml in the current directory or $HOME/.ssectl/.
  Environment variables override config values with the SSECTL_ prefix.
  Example: SSECTL_SERVER_URL=http://localhost:8050/sse

Commands:
  tools       List the tools a server offers
  call        Invoke a tool
  watch       Print server notifications and connection changes
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ssectl.yaml)")
	rootCmd.PersistentFlags().String("url", "", "event stream URL, e.g. http://localhost:8050/sse")
	rootCmd.PersistentFlags().String("service", "", "service name to discover through the registry")
	rootCmd.PersistentFlags().Duration("timeout", 0, "per-call timeout")
}

func initConfig() {
	v = config.NewViper(cfgFile)
	_ = v.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("url"))
	_ = v.BindPFlag("server.service", rootCmd.PersistentFlags().Lookup("service"))
	if f := rootCmd.PersistentFlags().Lookup("timeout"); f.Changed {
		_ = v.BindPFlag("timeouts.call", f)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireTarget(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// session is a client plus whatever must be released with it.
type session struct {
	*client.Client
	logger  *zap.Logger
	service string
	url     string
	closers []func() error
}

func (s *session) Close() {
	_ = s.Client.Close()
	for _, c := range s.closers {
		_ = c()
	}
	_ = s.logger.Sync()
}

// open connects to the configured URL or service and returns once Ready.
func (s *session) open(ctx context.Context) error {
	if s.service != "" {
		return s.ConnectService(ctx, s.service)
	}
	return s.Connect(ctx, s.url)
}

// newSession loads the configuration and builds an unconnected client. m may
// be nil.
func newSession(m *metrics.Metrics) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{logger: logger, service: cfg.Server.Service, url: cfg.Server.URL}
	opts := append(cfg.ClientOptions(logger), client.WithMetrics(m))

	if s.service != "" {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, reg.Close)
		bal, err := cfg.Balancer()
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
		opts = append(opts, client.WithRegistry(reg, bal))
	}

	s.Client = client.New(opts...)
	return s, nil
}

// connect returns a Ready session.
func connect(ctx context.Context, m *metrics.Metrics) (*session, error) {
	s, err := newSession(m)
	if err != nil {
		return nil, err
	}
	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
