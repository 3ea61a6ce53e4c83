package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lanlink/internal/discover"
	"lanlink/internal/util/logger/handlers/slogpretty"
	"lanlink/internal/util/logger/sl"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Ошибка:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		port     int
		interval time.Duration
		verbose  bool
	)

	rootCmd := &cobra.Command{
		Use:          "lanscan [a.b.c. ...]",
		Short:        "Ищет узлы lanlink в локальной сети и печатает их адреса",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			log := setupPrettySlog(os.Stderr, level)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			signalChannel := make(chan os.Signal, 1)
			signal.Notify(signalChannel, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signalChannel)

			go func() {
				select {
				case sig := <-signalChannel:
					log.Info("Shutdown signal received", slog.Any("signal", sig))
					cancel()
				case <-ctx.Done():
				}
			}()

			return scan(ctx, cmd.OutOrStdout(), discover.Config{Port: port}, args, interval, log)
		},
	}

	rootCmd.Flags().IntVarP(&port, "port", "p", discover.DefaultPort, "UDP порт обнаружения")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", 5*time.Second, "Период печати списка узлов")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Подробный лог")

	return rootCmd
}

// scan запускает обнаружение и печатает новые узлы, пока ctx не отменен
func scan(ctx context.Context, out io.Writer, cfg discover.Config, segments []string, interval time.Duration, log *slog.Logger) error {
	for _, segment := range segments {
		if !discover.ValidSegment(segment) {
			log.Warn("skipping invalid segment", slog.String("segment", segment))
			continue
		}
		cfg.Segments = append(cfg.Segments, segment)
	}

	d := discover.New(cfg, log)
	if err := d.Start(ctx); err != nil {
		log.Error("failed to start discovery", sl.Err(err))
		return fmt.Errorf("start discovery: %w", err)
	}
	defer d.Close()

	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "Найдено узлов: %d\n", len(seen))
			return nil
		case <-ticker.C:
			for _, peer := range d.DiscoveredPeers() {
				if _, ok := seen[peer]; ok {
					continue
				}
				seen[peer] = struct{}{}
				fmt.Fprintln(out, peer)
			}
		}
	}
}

func setupPrettySlog(w io.Writer, level slog.Level) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: level,
		},
	}

	return slog.New(opts.NewPrettyHandler(w))
}
