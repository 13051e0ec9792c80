package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seedling/dictation-daemon/internal/api"
	"github.com/seedling/dictation-daemon/internal/asr"
	"github.com/seedling/dictation-daemon/internal/audio"
	"github.com/seedling/dictation-daemon/internal/config"
	"github.com/seedling/dictation-daemon/internal/observability"
	"github.com/seedling/dictation-daemon/internal/recorder"
)

var rootCmd = &cobra.Command{
	Use:           "seedling",
	Short:         "Streaming dictation daemon",
	Long:          `Seedling streams microphone audio to a speech recognition service and returns the transcript over a local HTTP API.`,
	Version:       observability.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dictation daemon",
	RunE:  runServe,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file and print the text",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Control API port (overrides SEEDLING_DAEMON_PORT)")

	transcribeCmd.Flags().Bool("realtime", true, "Stream the file at playback speed")
	transcribeCmd.Flags().Bool("partial", false, "Print partial results to stderr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transcribeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes the logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

func newRecorder(cfg *config.Config, newSource recorder.SourceFactory) *recorder.Recorder {
	logger := observability.GetLogger()
	session := asr.NewSession(cfg.SessionConfig(), nil, observability.WithComponent("asr"))

	return recorder.New(session, newSource, recorder.Options{
		QueueCapacity:              cfg.AudioQueueCapacity,
		FinalResultTimeout:         cfg.FinalResultTimeout,
		RecordingDir:               cfg.RecordingDir,
		CircuitBreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		CircuitBreakerResetTimeout: cfg.CircuitBreakerResetTimeout,
	}, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); cmd.Flags().Changed("port") {
		cfg.Port = port
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger := observability.GetLogger()

	logger.Info().
		Int("port", cfg.Port).
		Str("asr_url", cfg.ASRURL).
		Str("capture_command", cfg.CaptureCommand).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Seedling daemon starting")

	rec := newRecorder(cfg, func() (audio.Source, error) {
		return audio.NewCommandSource(cfg.CaptureCommand, cfg.CaptureSampleRate), nil
	})
	rec.OnText(func(text string) {
		logger.Debug().Str("text", text).Msg("Transcript updated")
	})

	router := api.NewRouter(rec, api.Options{Port: cfg.Port, MetricsEnabled: cfg.MetricsEnabled}, observability.WithComponent("api"))
	server := api.NewServer(cfg.Addr(), router)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("endpoint", fmt.Sprintf("http://%s/toggle", cfg.Addr())).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	if rec.IsRecording() {
		if _, err := rec.Cancel(); err != nil {
			logger.Warn().Err(err).Msg("Failed to cancel recording")
		}
	}

	logger.Info().Msg("Server exited gracefully")
	return nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	realtime, _ := cmd.Flags().GetBool("realtime")
	partial, _ := cmd.Flags().GetBool("partial")
	if !realtime {
		// The file decodes faster than it streams; hold it all instead of dropping
		cfg.AudioQueueCapacity = 1 << 14
	}

	source, err := audio.OpenWAV(args[0], realtime)
	if err != nil {
		return err
	}
	defer source.Close()

	logger := observability.GetLogger()
	if d, err := source.Duration(); err == nil {
		logger.Info().
			Str("file", args[0]).
			Dur("duration", d).
			Int("sample_rate", source.SampleRate()).
			Msg("Transcribing file")
	}

	// A WAV file is finite, so Start/Stop run around its capture
	rec := newRecorder(cfg, func() (audio.Source, error) { return source, nil })
	if partial {
		rec.OnText(func(text string) {
			fmt.Fprintf(os.Stderr, "\r%s", text)
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rec.Start(ctx); err != nil {
		return err
	}

	select {
	case <-rec.CaptureDone():
	case <-ctx.Done():
		if _, err := rec.Cancel(); err != nil {
			return err
		}
		return ctx.Err()
	}

	summary, err := rec.Stop(context.Background())
	if err != nil {
		return err
	}
	if partial {
		fmt.Fprintln(os.Stderr)
	}
	if msg := rec.Status().LastError; msg != "" && summary.Text == "" {
		return fmt.Errorf("recognition failed: %s", msg)
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary.Text)
	return nil
}
