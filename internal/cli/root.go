// Package cli provides the overlayctl command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"pricewatch/config"
	"pricewatch/internal/logger"
	"pricewatch/internal/model"
	"pricewatch/internal/provider"
	"pricewatch/internal/store"
)

// App holds the command dependencies. Nil fields are built from the config
// in the root command's PersistentPreRunE; tests inject them.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    model.SeriesStore
	Provider model.SeriesProvider
	Now      func() time.Time

	closeStore func() error
}

// NewRootCmd creates the root command.
func NewRootCmd(app *App) *cobra.Command {
	if app.Now == nil {
		app.Now = time.Now
	}

	rootCmd := &cobra.Command{
		Use:   "overlayctl",
		Short: "Inspect and refresh the cached price history and its overlays",
		Long: `overlayctl works on the same store as overlayd.

It can refresh the cached history from the provider, report how fresh the
cache is, and print the moving-average overlays for a display window.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if app.closeStore != nil {
				return app.closeStore()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newLoadCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newOverlaysCmd(app))

	return rootCmd
}

func (app *App) init(cmd *cobra.Command) error {
	if app.Config == nil {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		app.Config = cfg
	}

	if app.Logger == nil {
		level := slog.LevelWarn
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			level = slog.LevelDebug
		}
		app.Logger = logger.New(cmd.ErrOrStderr(), "overlayctl", level)
	}

	if app.Store == nil {
		backend, err := store.Open(app.Config, app.Logger)
		if err != nil {
			return fmt.Errorf("open %s store: %w", app.Config.Store.Backend, err)
		}
		app.Store = backend
		app.closeStore = backend.Close
	}

	if app.Provider == nil {
		cfg := app.Config
		app.Provider = provider.New(provider.Config{
			ChartBaseURL: cfg.Provider.ChartBaseURL,
			QuoteBaseURL: cfg.Provider.QuoteBaseURL,
			CoinID:       cfg.Provider.CoinID,
			Currency:     cfg.Provider.Currency,
			Timeout:      cfg.Duration(cfg.Provider.Timeout),
			Logger:       app.Logger,
		})
	}
	return nil
}
