package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lanlink/internal/cli"
	"lanlink/internal/config"
	connectionmanager "lanlink/internal/connection_manager"
	"lanlink/internal/discover"
	"lanlink/internal/discover/mdns"
	"lanlink/internal/util/logger/handlers/slogpretty"
	"lanlink/internal/util/logger/sl"
	"lanlink/internal/watcher"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.MustLoad()

	logOut, closeLog := openLogOutput(cfg.LogFile)
	defer closeLog()

	// Настраиваем логгер
	log := setupLogger(cfg.Env, logOut)

	log.Info("starting application",
		slog.String("name", cfg.Name),
		slog.Int("port", cfg.Port),
		slog.String("downloads", cfg.DownloadsDir),
	)

	// Создаем контекст с отменой для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-signalChannel:
			log.Info("Shutdown signal received", slog.Any("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	manager := connectionmanager.NewConnectionManager(ctx, connectionmanager.Config{
		Hostname:     cfg.Name,
		DownloadsDir: cfg.DownloadsDir,
		DialTimeout:  cfg.DialTimeout,
		MaxFrameSize: cfg.MaxFrameSize,
	}, log)
	defer manager.Close()

	port, err := manager.StartListening(cfg.Port)
	if err != nil {
		log.Error("failed to start listening", sl.Err(err))
		os.Exit(1)
	}

	if err := manager.JoinMulticastGroup(cfg.Presence.Group); err != nil {
		log.Warn("failed to join presence group", sl.Err(err))
	}

	discoverer := discover.New(discover.Config{
		Port:           cfg.Discovery.Port,
		BeaconInterval: cfg.Discovery.BeaconInterval,
		QueueSize:      cfg.Discovery.QueueSize,
		Segments:       cfg.Discovery.Segments,
	}, log)
	defer discoverer.Close()

	if cfg.MDNS.Enabled {
		discoverer.RegisterMechanism(mdns.New(mdns.Config{
			Service:        cfg.MDNS.Service,
			Instance:       fmt.Sprintf("%s-%d", cfg.Name, port),
			Port:           port,
			BrowseInterval: cfg.MDNS.BrowseInterval,
		}, log))
	}

	if err := discoverer.Start(ctx); err != nil {
		// без обнаружения узлы все еще доступны через connect
		log.Error("failed to start discovery", sl.Err(err))
	}

	var outbox *watcher.Outbox
	if cfg.OutboxDir != "" {
		outbox, err = startOutbox(manager, cfg.OutboxDir, log)
		if err != nil {
			log.Error("failed to watch outbox", slog.String("dir", cfg.OutboxDir), sl.Err(err))
		} else {
			defer outbox.Close()
		}
	}

	appCtx := cli.NewAppContext(manager, discoverer, cancel)
	shell, run, err := cli.RunStdin(ctx, cli.NewCLI(appCtx, os.Stdout))
	if err != nil {
		log.Error("failed to start shell", sl.Err(err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		announcePresence(gctx, manager, cfg.Presence, log)
		return nil
	})
	g.Go(func() error {
		printEvents(gctx, shell.Output(), manager.Events())
		return nil
	})
	g.Go(func() error {
		printErrors(gctx, log, "connection manager", manager.Errors())
		return nil
	})
	if outbox != nil {
		g.Go(func() error {
			printErrors(gctx, log, "outbox", outbox.Errors())
			return nil
		})
	}

	// ReadLine не прерывается отменой контекста, поэтому оболочка живет вне группы
	go func() {
		if err := run(); err != nil {
			log.Error("shell stopped", sl.Err(err))
		}
		cancel()
	}()

	<-ctx.Done()
	_ = g.Wait()

	log.Info("Application shutting down gracefully")
}

// announcePresence периодически рассылает presence датаграмму
func announcePresence(ctx context.Context, manager *connectionmanager.ConnectionManager, cfg config.Presence, log *slog.Logger) {
	if cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if err := manager.BroadcastPresence(cfg.Group); err != nil {
			log.Debug("presence broadcast failed", sl.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printEvents(ctx context.Context, out io.Writer, events <-chan connectionmanager.Event) {
	message := color.New(color.FgCyan)
	file := color.New(color.FgGreen)
	peer := color.New(color.FgYellow)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case connectionmanager.MessageReceived:
				message.Fprintf(out, "[%s] %s\n", ev.Address, ev.Text)
			case connectionmanager.FileReceived:
				file.Fprintf(out, "[%s] файл %s сохранен в %s\n", ev.Address, ev.Text, ev.Path)
			case connectionmanager.PeerDiscovered:
				peer.Fprintf(out, "Узел в сети: %s\n", ev.Text)
			}
		}
	}
}

func printErrors(ctx context.Context, log *slog.Logger, source string, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			log.Warn("background error", slog.String("source", source), sl.Err(err))
		}
	}
}

func startOutbox(manager *connectionmanager.ConnectionManager, dir string, log *slog.Logger) (*watcher.Outbox, error) {
	outbox, err := watcher.NewOutbox(manager, watcher.Config{
		DebounceDuration: 500 * time.Millisecond,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	if err := outbox.Watch(dir); err != nil {
		outbox.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}
	return outbox, nil
}

// openLogOutput открывает файл лога, чтобы вывод не мешал оболочке
func openLogOutput(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stderr, func() {}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log dir: %v\n", err)
		return os.Stderr, func() {}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		return os.Stderr, func() {}
	}
	return file, func() { file.Close() }
}

func setupLogger(env string, w io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog(w)
	case envDev:
		log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return log
}

func setupPrettySlog(w io.Writer) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(w)

	return slog.New(handler)
}
