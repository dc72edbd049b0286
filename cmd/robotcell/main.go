// Command robotcell runs the pick-and-place cell supervisor: it connects to the robot
// controller and the PLC, runs the watchdog, the monitor loops and the motion cycles, and
// serves operator requests over IPC until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"robotcell/internal/config"
	"robotcell/internal/logging"
	"robotcell/internal/management"
	"robotcell/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "robotcell",
		Short:        "Supervisor of a six-axis pick-and-place cell",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Start the supervisor and run until interrupted",
		RunE:  runSupervisor,
	}

	initConfigCmd = &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}
			if err := config.CreateDefaultConfig(configPath); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", configPath)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.AddCommand(runCmd, initConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// CellSystem 单元监控系统
type CellSystem struct {
	configManager *config.ConfigManager
	application   *management.ApplicationManager
	metricsServer *http.Server
	logger        *logging.Logger
}

func NewCellSystem(ctx context.Context, path string) (*CellSystem, error) {
	configManager, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg := configManager.GetConfig()
	if err := logging.Configure(logging.FromTypes(cfg.Logging)); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	application, err := management.NewApplicationManager(ctx, configManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create application manager: %w", err)
	}

	system := &CellSystem{
		configManager: configManager,
		application:   application,
		logger:        logging.GetLogger("robotcell"),
	}
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		system.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return system, nil
}

// Run starts every layer and blocks until ctx is cancelled, then shuts down in reverse order.
func (s *CellSystem) Run(ctx context.Context) error {
	if err := s.application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	s.printSystemInfo()

	g, gctx := errgroup.WithContext(ctx)
	if s.metricsServer != nil {
		g.Go(func() error {
			s.logger.Info("Serving metrics", "address", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if s.metricsServer != nil {
			errs = append(errs, s.metricsServer.Shutdown(shutdownCtx))
		}
		errs = append(errs, s.application.Stop(shutdownCtx))
		return errors.Join(errs...)
	})
	return g.Wait()
}

func (s *CellSystem) printSystemInfo() {
	cfg := s.configManager.GetConfig()
	st := s.application.Cell().Status()

	names := make([]string, 0, len(cfg.Positions))
	for name := range cfg.Positions {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("==========================================")
	fmt.Println("  Robot Cell Supervisor")
	fmt.Println("==========================================")
	fmt.Printf("  Robot: %s (%s), connected=%v\n", cfg.Robot.Address, cfg.Robot.Driver, st.Robot.Connected)
	fmt.Printf("  PLC: %s %s:%d\n", cfg.PLC.Driver, cfg.PLC.Address, cfg.PLC.Port)
	fmt.Printf("  IPC Server: %s:%d\n", cfg.IPC.Address, cfg.IPC.Port)
	if cfg.NATS.URL != "" {
		fmt.Printf("  NATS: %s (%s.*)\n", cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	}
	fmt.Printf("  Collision profile: %d\n", st.Collision)
	fmt.Printf("  Positions: %v\n", names)
	fmt.Println("==========================================")
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	system, err := NewCellSystem(ctx, configPath)
	if err != nil {
		return err
	}
	if err := system.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Robot cell supervisor shutdown complete")
	return nil
}
