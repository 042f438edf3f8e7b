package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"pricewatch/internal/model"
	"pricewatch/internal/overlay"
	"pricewatch/internal/refresh"
)

const commandTimeout = 2 * time.Minute

// ────────────────────────────────────────────────────────────
// load
// ────────────────────────────────────────────────────────────

func newLoadCmd(app *App) *cobra.Command {
	var (
		rangeFlag  string
		overlays   string
		staleAfter string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Present the cache and refresh it from the provider when stale",
		Long: `Reads the cached history, refreshes it from the provider when it is
missing, stale or too short, and prints the window with its overlays.`,
		Example: `  overlayctl load --range 1Y
  overlayctl load --range 24H --stale-after 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			view, err := app.view(rangeFlag, overlays)
			if err != nil {
				return err
			}

			policy := app.Config.Policy()
			if staleAfter != "" {
				d, err := str2duration.ParseDuration(staleAfter)
				if err != nil {
					return fmt.Errorf("--stale-after: %w", err)
				}
				policy.StaleAfter = d
			}
			if err := policy.Validate(); err != nil {
				return err
			}

			coord := refresh.New(app.Store, app.Provider, refresh.Options{
				Policy:  policy,
				Logger:  app.Logger,
				Now:     app.Now,
				Initial: view,
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			loadErr := coord.Load(ctx, view)

			st := coord.State()
			summary := newSummary(st, app.Now())
			if output.IsJSON() {
				if err := output.JSON(summary); err != nil {
					return err
				}
			} else {
				printSummary(output, summary)
			}
			return loadErr
		},
	}

	cmd.Flags().StringVarP(&rangeFlag, "range", "r", "", "display window: 24H, 1W, 1M, 3M, 6M, 1Y, 2Y, All (default from config)")
	cmd.Flags().StringVar(&overlays, "overlays", "", "comma-separated overlays to compute (default from config)")
	cmd.Flags().StringVar(&staleAfter, "stale-after", "", "override the staleness threshold, e.g. 30m, 2h, 1d")
	return cmd
}

// ────────────────────────────────────────────────────────────
// status
// ────────────────────────────────────────────────────────────

type cacheStatus struct {
	Backend      string `json:"backend"`
	Points       int    `json:"points"`
	Oldest       string `json:"oldest,omitempty"`
	Newest       string `json:"newest,omitempty"`
	Age          string `json:"age,omitempty"`
	SpanDays     int    `json:"span_days"`
	Latest       string `json:"latest,omitempty"`
	NeedsRefresh bool   `json:"needs_refresh"`
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report how fresh and how deep the cached history is",
		Long:  "Reads the store only. The provider is never contacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			history, err := app.Store.Fetch(ctx, model.CategoryPrice, nil, 0)
			if err != nil {
				return fmt.Errorf("read cache: %w", err)
			}

			now := app.Now()
			st := cacheStatus{
				Backend:      app.Config.Store.Backend,
				Points:       len(history),
				SpanDays:     int(history.Span().Hours() / 24),
				NeedsRefresh: true,
			}
			if oldest, ok := history.First(); ok {
				newest, _ := history.Last()
				st.Oldest = FormatDate(oldest.TS)
				st.Newest = FormatDateTime(newest.TS)
				st.Age = FormatAge(now.Sub(newest.TS))
				st.Latest = FormatPrice(newest.Value)
				st.NeedsRefresh = app.Config.Policy().NeedsRefresh(oldest.TS, newest.TS, now)
			}

			if output.IsJSON() {
				return output.JSON(st)
			}

			output.Bold("Cache (%s)", st.Backend)
			if st.Points == 0 {
				output.Warning("  empty, run 'overlayctl load' to fetch the history")
				return nil
			}
			output.Printf("  Points:   %d over %d days\n", st.Points, st.SpanDays)
			output.Printf("  Oldest:   %s\n", st.Oldest)
			output.Printf("  Newest:   %s (%s ago)\n", st.Newest, st.Age)
			output.Printf("  Latest:   %s\n", st.Latest)
			if st.NeedsRefresh {
				output.Warning("  Refresh needed")
			} else {
				output.Success("  Fresh")
			}
			return nil
		},
	}
}

// ────────────────────────────────────────────────────────────
// overlays
// ────────────────────────────────────────────────────────────

func newOverlaysCmd(app *App) *cobra.Command {
	var (
		rangeFlag string
		enable    string
	)

	cmd := &cobra.Command{
		Use:   "overlays",
		Short: "Compute overlays for a window from the cached history",
		Long: `Computes the enabled overlays over the whole cached history and prints
their values inside the window. The provider is never contacted; run
'overlayctl load' first when the cache is stale.`,
		Example: `  overlayctl overlays --range 2Y --enable ma-200w,band
  overlayctl overlays --range All --enable ma-200w,ma-200d,ma-50d --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			view, err := app.view(rangeFlag, enable)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			history, err := app.Store.Fetch(ctx, model.CategoryPrice, nil, 0)
			if err != nil {
				return fmt.Errorf("read cache: %w", err)
			}

			now := app.Now()
			start := view.Window.Start(now)
			res := overlay.Compose(history, view.Selection, start)
			rows := overlayRows(view.Selection, res)

			if output.IsJSON() {
				return output.JSON(map[string]any{
					"window":   string(view.Window),
					"points":   len(history.Since(start)),
					"overlays": rows,
				})
			}

			output.Bold("Overlays for %s (%d cached points)", view.Window, len(history))
			printOverlayTable(output, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&rangeFlag, "range", "r", "", "display window (default from config)")
	cmd.Flags().StringVarP(&enable, "enable", "e", "", "comma-separated overlays, e.g. ma-200w,band (default from config)")
	return cmd
}

// view resolves the window and selection flags against the config defaults.
func (app *App) view(rangeFlag, overlays string) (refresh.View, error) {
	view := app.Config.DefaultView()
	if rangeFlag != "" {
		r, err := model.ParseTimeRange(rangeFlag)
		if err != nil {
			return view, err
		}
		view.Window = r
	}
	if overlays != "" {
		sel, err := model.ParseSelection(overlays)
		if err != nil {
			return view, err
		}
		view.Selection = sel
	}
	return view, nil
}
