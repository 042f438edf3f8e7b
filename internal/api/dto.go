package api

import (
	"encoding/json"
	"time"

	"pricewatch/internal/model"
	"pricewatch/internal/refresh"
)

// StateDTO is the wire form of refresh.State. Series encode as
// [unix_ms, value] pairs; the full retained history is summarised, not sent.
type StateDTO struct {
	Window     string                  `json:"window"`
	Selection  []string                `json:"selection"`
	Display    model.Series            `json:"display"`
	Overlays   map[string]model.Series `json:"overlays"`
	Band       []BandPointDTO          `json:"band,omitempty"`
	Latest     *float64                `json:"latest,omitempty"`
	Loading    bool                    `json:"loading"`
	LastError  string                  `json:"last_error,omitempty"`
	ShortRange bool                    `json:"short_range"`
	UpdatedAt  int64                   `json:"updated_at,omitempty"`
	History    HistoryDTO              `json:"history"`
}

// BandPointDTO is one date of the support band.
type BandPointDTO struct {
	TS    int64   `json:"ts"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// HistoryDTO summarises the retained history overlays are computed from.
type HistoryDTO struct {
	Points int   `json:"points"`
	Oldest int64 `json:"oldest,omitempty"`
	Newest int64 `json:"newest,omitempty"`
}

// OverlayInfoDTO describes one overlay kind.
type OverlayInfoDTO struct {
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Available   bool   `json:"available"`
}

// Envelope wraps every websocket message.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMsg is a command sent by a stream client.
type ClientMsg struct {
	Type    string `json:"type"` // "toggle", "load" or "ping"
	Overlay string `json:"overlay,omitempty"`
	Range   string `json:"range,omitempty"`
	Ping    int64  `json:"ping,omitempty"`
}

// NewStateDTO converts a coordinator snapshot for the wire.
func NewStateDTO(st refresh.State) StateDTO {
	dto := StateDTO{
		Window:     string(st.Window),
		Selection:  make([]string, 0, len(st.Selection)),
		Display:    st.Display,
		Overlays:   make(map[string]model.Series, len(st.Overlays)),
		Loading:    st.Loading,
		LastError:  st.LastError,
		ShortRange: st.ShortRange,
		History:    HistoryDTO{Points: len(st.FullHistory)},
	}
	if dto.Display == nil {
		dto.Display = model.Series{}
	}
	for _, k := range st.Selection.Kinds() {
		dto.Selection = append(dto.Selection, k.String())
	}
	for k, s := range st.Overlays {
		if s == nil {
			s = model.Series{}
		}
		dto.Overlays[k.String()] = s
	}
	for _, bp := range st.Band.Points() {
		dto.Band = append(dto.Band, BandPointDTO{TS: bp.TS.UnixMilli(), Lower: bp.Lower, Upper: bp.Upper})
	}
	if st.HasLatest {
		v := st.LatestValue
		dto.Latest = &v
	}
	if !st.UpdatedAt.IsZero() {
		dto.UpdatedAt = st.UpdatedAt.UnixMilli()
	}
	if first, ok := st.FullHistory.First(); ok {
		dto.History.Oldest = first.TS.UnixMilli()
	}
	if last, ok := st.FullHistory.Last(); ok {
		dto.History.Newest = last.TS.UnixMilli()
	}
	return dto
}

// overlayInfo lists every kind with its status in st.
func overlayInfo(st refresh.State) []OverlayInfoDTO {
	out := make([]OverlayInfoDTO, 0, len(model.AllOverlays))
	for _, k := range model.AllOverlays {
		available := st.Band != nil
		if !k.IsBand() {
			_, available = st.Overlays[k]
		}
		out = append(out, OverlayInfoDTO{
			Kind:        k.String(),
			Label:       k.Label(),
			Description: k.Description(),
			Enabled:     st.Selection.Has(k),
			Available:   available,
		})
	}
	return out
}

func envelope(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, TS: time.Now().UnixMilli(), Data: data})
}
