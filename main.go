package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"pebblescribe/internal/bootstrap"
	"pebblescribe/internal/config"
	"pebblescribe/internal/domain"
	"pebblescribe/internal/logging"
	"pebblescribe/internal/metrics"
	"pebblescribe/internal/tui"
)

func main() {
	recordFlag := flag.Float64("record", 0, "Record for N seconds without the terminal UI, then exit")
	configFlag := flag.String("config", "", "YAML config file (default: ~/.config/pebblescribe/config.yaml)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS cache dir in interactive mode, stderr otherwise)")
	flag.Parse()

	if *configFlag != "" {
		os.Setenv("PEBBLE_CONFIG", *configFlag)
	}
	os.Exit(run(*recordFlag, *logPathFlag))
}

func run(recordSeconds float64, logPath string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	headless := recordSeconds > 0
	if logPath == "" {
		logPath = cfg.Logging.Dir
	}
	if logPath == "" && !headless {
		logPath = defaultLogDir()
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.Logging.Level, Dir: logPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp()
	if headless {
		fmt.Printf("Scanning for %s device...\n", cfg.Link.DeviceName)
	}
	services, err := bootstrap.Build(ctx, cfg, app, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn().Err(err).Msg("disconnect failed")
		}
	}()

	if addr := cfg.Metrics.ListenAddress; addr != "" {
		go func() {
			logger.Info().Str("addr", addr).Msg("metrics listening")
			if err := metrics.Serve(ctx, addr, services.Registry); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	if headless {
		duration := time.Duration(recordSeconds * float64(time.Second))
		return runHeadless(ctx, services, app, duration, os.Stdout)
	}
	return runInteractive(ctx, services, app, logger)
}

func runHeadless(ctx context.Context, services bootstrap.Services, app *App, duration time.Duration, out io.Writer) int {
	fmt.Fprintf(out, "Connected to %s\n", services.Address)
	fmt.Fprintf(out, "Recording for %g seconds...\n", duration.Seconds())

	stop := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(app.Events(), stop, out)
	}()

	result, err := services.Controller.RecordFor(ctx, duration, services.Config.Session.SlackFactor)
	close(stop)
	<-printed

	printResult(out, result)
	if err != nil {
		fmt.Fprintf(out, "Recording failed: %v\n", err)
		return 1
	}
	return 0
}

// printEvents writes realtime transcript progress until the event stream
// closes or stop fires. Events already buffered when stop fires are still
// written.
func printEvents(events <-chan tea.Msg, stop <-chan struct{}, out io.Writer) {
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			printEvent(out, msg)
		case <-stop:
			for {
				select {
				case msg, ok := <-events:
					if !ok {
						return
					}
					printEvent(out, msg)
				default:
					return
				}
			}
		}
	}
}

func printEvent(out io.Writer, msg tea.Msg) {
	switch msg := msg.(type) {
	case tui.StateMsg:
		if msg.Message != "" {
			fmt.Fprintln(out, msg.Message)
		}
	case tui.PartialMsg:
		fmt.Fprintf(out, "\nTranscript so far: %s\n", msg.Segment.Text)
	case tui.ErrorMsg:
		fmt.Fprintf(out, "%s: %s\n", msg.Message, msg.Detail)
	}
}

func printResult(out io.Writer, result domain.StopResult) {
	if result.SessionID == "" {
		return
	}
	kinds := make([]string, 0, len(result.Artifacts))
	for kind := range result.Artifacts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(out, "Saved %s to %s\n", kind, result.Artifacts[domain.ArtifactKind(kind)])
	}
	for kind, reason := range result.Failures {
		fmt.Fprintf(out, "Failed to save %s: %s\n", kind, reason)
	}
	fmt.Fprintf(out, "Full transcript: %s\n", result.FinalTranscript)
}

func runInteractive(ctx context.Context, services bootstrap.Services, app *App, logger zerolog.Logger) int {
	model := tui.New(ctx, services.Controller, app.Events(), tui.Options{
		Device:          services.Address,
		DefaultDuration: services.Config.Session.DefaultDuration(),
		Slack:           services.Config.Session.SlackFactor,
	})
	program := tui.NewProgram(model)

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	_, runErr := program.Run()

	if services.Controller.Status().Active {
		logger.Info().Msg("finalizing active session before exit")
		if _, err := services.Controller.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, domain.ErrNotRecording) {
			logger.Warn().Err(err).Msg("final stop failed")
		}
	}
	if n := app.Dropped(); n > 0 {
		logger.Debug().Int64("dropped", n).Msg("ui events dropped")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("terminal ui failed")
		fmt.Fprintf(os.Stderr, "terminal ui failed: %v\n", runErr)
		return 1
	}
	return 0
}

func defaultLogDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pebblescribe")
	}
	return "."
}
