// Command crmnotify bridges the CRM event feed into a local notification
// history and shows it in a terminal UI and/or over HTTP.
//
//	crmnotify [--config path] [--demo] [--serve] [--headless]
//	crmnotify setup [--config path]
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
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/nhle/crm-notifications/internal/app"
	"github.com/nhle/crm-notifications/internal/bridge"
	"github.com/nhle/crm-notifications/internal/credential"
	"github.com/nhle/crm-notifications/internal/inbox"
	"github.com/nhle/crm-notifications/internal/logging"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/notify"
	"github.com/nhle/crm-notifications/internal/server"
	"github.com/nhle/crm-notifications/internal/session"
	"github.com/nhle/crm-notifications/internal/source"
	"github.com/nhle/crm-notifications/internal/source/demo"
	"github.com/nhle/crm-notifications/internal/source/rest"
	"github.com/nhle/crm-notifications/internal/store"
	"github.com/nhle/crm-notifications/internal/ui/setup"
)

type options struct {
	configPath string
	demo       bool
	serve      bool
	headless   bool
}

func main() {
	// A missing .env is normal.
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := runSetup(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "crmnotify setup: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")
	flag.BoolVar(&opts.demo, "demo", false, "use the synthetic event generator instead of the backend")
	flag.BoolVar(&opts.serve, "serve", false, "also serve the HTTP view")
	flag.BoolVar(&opts.headless, "headless", false, "run the bridge and HTTP view without the terminal UI")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "crmnotify: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logOut, closeLog, err := logOutput(cfg, opts.headless)
	if err != nil {
		return err
	}
	defer closeLog()

	logger, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return err
	}
	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer kv.Close()

	history := notify.New(kv,
		notify.WithCapacity(cfg.Store.Capacity),
		notify.WithLogger(logger),
	)

	src, err := openSource(ctx, cfg, opts.demo, logger)
	if err != nil {
		return err
	}

	b := bridge.New(src, history,
		bridge.WithLogger(logger),
		bridge.WithPollInterval(cfg.Bridge.PollInterval()),
		bridge.WithPush(cfg.Bridge.PushEnabled),
		bridge.WithToastDuration(cfg.Bridge.ToastDuration()),
	)
	b.Start(ctx)
	defer b.Stop()

	ib := inbox.New(history, src, b, inbox.WithLogger(logger))

	log.WithFields(logrus.Fields{
		"demo":     opts.demo,
		"headless": opts.headless,
		"capacity": history.Capacity(),
	}).Info("crmnotify started")

	if opts.headless {
		return serve(ctx, cfg, ib, b, logger)
	}

	serveErr := make(chan error, 1)
	if opts.serve {
		go func() { serveErr <- serve(ctx, cfg, ib, b, logger) }()
	}

	p := tea.NewProgram(app.New(ib, b), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running terminal UI: %w", err)
	}

	if opts.serve {
		stop()
		return <-serveErr
	}
	return nil
}

func serve(ctx context.Context, cfg *model.AppConfig, ib *inbox.Inbox, b *bridge.Bridge, logger logrus.FieldLogger) error {
	srv := server.New(cfg.Server.Addr, ib,
		server.WithLogger(logger),
		server.WithStatus(b),
	)
	return srv.Run(ctx)
}

// openSource returns the demo generator or the backend adapter for the
// session user named by the stored access token.
func openSource(ctx context.Context, cfg *model.AppConfig, useDemo bool, logger logrus.FieldLogger) (source.EventSource, error) {
	if useDemo {
		src := demo.New("demo-user")
		go src.Run(ctx, cfg.Demo.Interval())
		return src, nil
	}

	if cfg.Backend.BaseURL == "" {
		return nil, errors.New("no backend configured: run 'crmnotify setup' or pass --demo")
	}

	vault, err := credential.Open()
	if err != nil {
		return nil, err
	}
	token, err := vault.AccessToken()
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, errors.New("no access token: run 'crmnotify setup' or set CRMNOTIFY_ACCESS_TOKEN")
		}
		return nil, err
	}

	sess, err := session.FromToken(token)
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if sess.Expired(time.Now()) {
		logger.WithFields(logrus.Fields{
			"component": "main",
			"user":      sess.UserID,
			"expired":   sess.ExpiresAt,
		}).Warn("access token has expired; the backend will reject requests until setup is run again")
	}

	return rest.NewAdapter(cfg.Backend, sess.Token, sess.UserID, rest.WithLogger(logger)), nil
}

// logOutput picks the log destination. The terminal UI owns stdout and
// stderr, so interactive runs log to a file next to the local store.
func logOutput(cfg *model.AppConfig, headless bool) (io.Writer, func(), error) {
	if headless {
		return os.Stderr, func() {}, nil
	}

	dir := filepath.Dir(cfg.Store.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data directory %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "crmnotify.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func runSetup(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	configPath := fs.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	values := setup.ValuesFrom(cfg)
	if err := values.Form().Run(); err != nil {
		return err
	}
	if err := values.Apply(cfg); err != nil {
		return err
	}

	vault, err := credential.Open()
	if err != nil {
		return err
	}
	if err := vault.SetAccessToken(values.Token); err != nil {
		return err
	}
	if err := model.SaveConfig(*configPath, cfg); err != nil {
		return err
	}

	fmt.Printf("Saved configuration to %s\n", *configPath)
	return nil
}
