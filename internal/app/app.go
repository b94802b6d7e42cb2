package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mortgage-rate-alerts/internal/alerting"
	"mortgage-rate-alerts/internal/config"
	"mortgage-rate-alerts/internal/fetcher"
	"mortgage-rate-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() *fetcher.Fetcher {
	src := a.Config.Sources
	page := fetcher.PageOptions{
		Timeout:   src.RequestTimeout,
		UserAgent: src.UserAgent,
	}

	var sources []fetcher.Source
	for _, name := range src.Enabled {
		switch name {
		case "fred":
			sources = append(sources, fetcher.NewFRED(fetcher.FREDOptions{
				APIKey:    src.FREDAPIKey,
				BaseURL:   src.FREDBaseURL,
				Timeout:   src.RequestTimeout,
				UserAgent: src.UserAgent,
			}, a.Logger))
		case "bankrate":
			opts := page
			if src.BankrateURL != "" {
				opts.URLs = []string{src.BankrateURL}
			}
			sources = append(sources, fetcher.NewBankrate(opts, a.Logger))
		case "mortgage_news_daily":
			opts := page
			if src.MNDURL != "" {
				opts.URLs = []string{src.MNDURL}
			}
			sources = append(sources, fetcher.NewMortgageNewsDaily(opts, a.Logger))
		case "freddiemac":
			opts := page
			if src.FreddieMacURL != "" {
				opts.URLs = []string{src.FreddieMacURL}
			}
			sources = append(sources, fetcher.NewFreddieMac(opts, a.Logger))
		}
	}

	return fetcher.New(sources, src.RequestTimeout, a.Logger)
}

func (a *App) newNotifier() (alerting.Notifier, error) {
	switch a.Config.Notify.Method {
	case config.MethodTelegram:
		cfg := a.Config.Notify.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger), nil
	default:
		cfg := a.Config.Notify.Email
		return alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Sender:     cfg.Sender,
			Password:   cfg.Password,
			Recipients: cfg.Recipients,
			Timeout:    cfg.Timeout,
		}, a.Logger)
	}
}

func (a *App) openHistory() (*storage.History, error) {
	return storage.NewHistory(a.Config.Data.Dir, a.Logger)
}

func (a *App) openArchive(ctx context.Context) (*storage.Archive, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	archive := storage.NewArchive(pool)
	closer := func() {
		archive.Close()
	}
	return archive, closer, nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Archive bool
}

// ExportOptions hold parameters for exporting historical records.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// StatusOptions configure the status command.
type StatusOptions struct {
	Window int
}
