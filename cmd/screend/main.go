package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/screend/internal/capture"
	"github.com/breeze-rmm/screend/internal/config"
	"github.com/breeze-rmm/screend/internal/health"
	"github.com/breeze-rmm/screend/internal/logging"
	"github.com/breeze-rmm/screend/internal/metrics"
	"github.com/breeze-rmm/screend/internal/pat"
	"github.com/breeze-rmm/screend/internal/session"
	"github.com/breeze-rmm/screend/internal/transport"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "screend",
	Short: "screend remote-desktop streaming server",
	Long:  `screend - a change-detecting, UDP-native remote desktop streaming daemon`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("screend v%s (%s, %s)\n", version, commit, date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/screend/screend.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config, tee-ing to a rotating
// log file when one is configured. Call after config.Load(). Returns the
// *logging.RotatingWriter when a log file is active so the caller can wire
// SIGHUP-triggered reopen and report its rotation count, or nil otherwise.
func initLogging(cfg *config.Config) *logging.RotatingWriter {
	var output io.Writer = os.Stdout
	logFileFallback := false
	var rotator *logging.RotatingWriter

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
			rotator = rw
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
	return rotator
}

// newCaptureBackends constructs the Screen, Input, and Enumerator
// collaborators for cfg, falling back to the stub implementations when the
// configured backend has no platform support compiled in.
func newCaptureBackends(cfg *config.Config) (capture.Screen, capture.Input, capture.Enumerator) {
	enumerator := capture.NewDefaultEnumerator()

	var input capture.Input = capture.NewStubInput()
	if cfg.InputBackend == "xdotool" {
		if xi := newXdotoolInput(); xi != nil {
			input = xi
		} else {
			log.Warn("xdotool input backend not available on this platform, falling back to stub")
		}
	}

	screen := capture.NewStubScreen()
	return screen, input, enumerator
}

func runServer() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	rotator := initLogging(cfg)
	metrics.InitBuildInfo(version, commit, date)

	log.Info("starting screend",
		"version", version,
		"frameFps", cfg.FrameFPS,
		"heartbeatTimeoutSeconds", cfg.HeartbeatTimeoutSeconds,
		"captureDisplayIndex", cfg.CaptureDisplayIndex,
		"inputBackend", cfg.InputBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthMonitor := health.NewPipelineMonitor()
	healthMonitor.Update(health.ComponentConfig, health.Healthy, "loaded")

	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.MetricsEnabled {
		metricsSrv = metrics.StartHTTP(ctx, cfg.MetricsListenAddr)
	}

	screen, input, enumerator := newCaptureBackends(cfg)
	defer screen.Close()

	tracker := pat.New()
	go tracker.Run(ctx)
	healthMonitor.Update(health.ComponentPendingAckTracker, health.Healthy, "running")

	ctl := session.New(screen, input, enumerator, nil, tracker, session.Options{
		FrameFPS:         cfg.FrameFPS,
		HeartbeatTimeout: durationSeconds(cfg.HeartbeatTimeoutSeconds),
		InboxQueueSize:   cfg.InboxQueueSize,
	})

	t := transport.New(ctl, tracker, ctl)
	ctl.SetSender(t)

	go func() {
		// Run returns after an Exit from the client; stop the whole server.
		ctl.Run(ctx)
		cancel()
	}()
	healthMonitor.Update(health.ComponentController, health.Healthy, "running, awaiting handshake")

	healthMonitor.Update(health.ComponentTransport, health.Healthy, "starting")
	go func() {
		if err := t.ListenAndServe(ctx); err != nil {
			log.Error("transport stopped", logging.KeyError, err)
			healthMonitor.Update(health.ComponentTransport, health.Unhealthy, err.Error())
			cancel()
		}
	}()

	log.Info("screend is running", "health", healthMonitor.Summary())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	if rotator != nil {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, syscall.SIGHUP)
		go func() {
			for range hupChan {
				if err := rotator.Reopen(); err != nil {
					log.Error("log file reopen failed", logging.KeyError, err)
				}
			}
		}()
	}

	select {
	case <-sigChan:
		log.Info("shutdown signal received")
	case <-ctx.Done():
		log.Info("shutting down after client exit or fatal transport error")
	}

	cancel()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if rotator != nil {
		log.Info("screend stopped", "logRotations", rotator.Rotations())
	} else {
		log.Info("screend stopped")
	}
}

func durationSeconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("config: error (%v)\n", err)
		os.Exit(1)
	}
	fmt.Printf("frame_fps: %d\n", cfg.FrameFPS)
	fmt.Printf("heartbeat_timeout_seconds: %d\n", cfg.HeartbeatTimeoutSeconds)
	fmt.Printf("capture_display_index: %d\n", cfg.CaptureDisplayIndex)
	fmt.Printf("input_backend: %s\n", cfg.InputBackend)
	fmt.Printf("metrics_enabled: %v\n", cfg.MetricsEnabled)
	fmt.Printf("metrics_listen_addr: %s\n", cfg.MetricsListenAddr)
}
