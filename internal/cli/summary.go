package cli

import (
	"fmt"
	"time"

	"pricewatch/internal/model"
	"pricewatch/internal/overlay"
	"pricewatch/internal/refresh"
)

// Overlay statuses.
const (
	statusOK      = "ok"
	statusOutside = "no points in window"
)

var statusInsufficient = model.ErrInsufficientHistory.Error()

type overlayRow struct {
	Kind   string   `json:"kind"`
	Label  string   `json:"label"`
	Status string   `json:"status"`
	Points int      `json:"points"`
	Last   *float64 `json:"last,omitempty"`
	Lower  *float64 `json:"lower,omitempty"`
	Upper  *float64 `json:"upper,omitempty"`
}

// overlayRows reports every selected overlay, available or not, in display order.
func overlayRows(sel model.Selection, res overlay.Result) []overlayRow {
	rows := make([]overlayRow, 0, len(sel))
	for _, kind := range sel.Kinds() {
		row := overlayRow{Kind: kind.String(), Label: kind.Label(), Status: statusInsufficient}

		if kind.IsBand() {
			if res.Band != nil {
				row.Points = len(res.Band.Lower)
				row.Status = statusOutside
				pts := res.Band.Points()
				if n := len(pts); n > 0 {
					lo, hi := pts[n-1].Lower, pts[n-1].Upper
					row.Lower, row.Upper = &lo, &hi
					row.Status = statusOK
				}
			}
			rows = append(rows, row)
			continue
		}

		if s, ok := res.Lines[kind]; ok {
			row.Points = len(s)
			row.Status = statusOutside
			if last, ok := s.Last(); ok {
				v := last.Value
				row.Last = &v
				row.Status = statusOK
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func printOverlayTable(o *Output, rows []overlayRow) {
	if len(rows) == 0 {
		o.Dim("  no overlays enabled")
		return
	}
	table := NewTable(o, "Overlay", "Points", "Last", "Status")
	for _, r := range rows {
		last := "-"
		switch {
		case r.Last != nil:
			last = FormatPrice(*r.Last)
		case r.Lower != nil && r.Upper != nil:
			last = AbbreviatePrice(*r.Lower) + " - " + AbbreviatePrice(*r.Upper)
		}
		table.AddRow(r.Label, fmt.Sprintf("%d", r.Points), last, r.Status)
	}
	table.Render()
}

// summary is what load prints.
type summary struct {
	Window        string       `json:"window"`
	ShortRange    bool         `json:"short_range"`
	Points        int          `json:"points"`
	HistoryPoints int          `json:"history_points"`
	From          string       `json:"from,omitempty"`
	To            string       `json:"to,omitempty"`
	Change        string       `json:"change,omitempty"`
	Latest        *float64     `json:"latest,omitempty"`
	Overlays      []overlayRow `json:"overlays"`
	Error         string       `json:"error,omitempty"`
	GeneratedAt   time.Time    `json:"generated_at"`
}

func newSummary(st refresh.State, now time.Time) summary {
	s := summary{
		Window:        string(st.Window),
		ShortRange:    st.ShortRange,
		Points:        len(st.Display),
		HistoryPoints: len(st.FullHistory),
		Overlays:      overlayRows(st.Selection, overlay.Result{Lines: st.Overlays, Band: st.Band}),
		Error:         st.LastError,
		GeneratedAt:   now.UTC(),
	}
	if first, ok := st.Display.First(); ok {
		last, _ := st.Display.Last()
		s.From = FormatDateTime(first.TS)
		s.To = FormatDateTime(last.TS)
		if first.Value != 0 {
			s.Change = FormatPercent((last.Value - first.Value) / first.Value * 100)
		}
	}
	if st.HasLatest {
		v := st.LatestValue
		s.Latest = &v
	}
	return s
}

func printSummary(o *Output, s summary) {
	if s.Latest != nil {
		o.Bold("Price %s", FormatPrice(*s.Latest))
	} else {
		o.Bold("Price unavailable")
	}

	granularity := "daily"
	if s.ShortRange {
		granularity = "hourly"
	}
	if s.Points == 0 {
		o.Warning("  %s: no points in window", s.Window)
	} else {
		o.Printf("  %s: %d %s points, %s to %s, %s\n", s.Window, s.Points, granularity, s.From, s.To, s.Change)
	}
	o.Printf("  History: %d points\n", s.HistoryPoints)
	o.Println()

	printOverlayTable(o, s.Overlays)

	if s.Error != "" {
		o.Println()
		o.Error("Refresh failed: %s", s.Error)
		o.Dim("Showing cached data.")
	}
}
