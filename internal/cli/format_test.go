package cli

import (
	"testing"
	"time"
)

func TestFormatPrice(t *testing.T) {
	cases := map[float64]string{
		0:         "$0.00",
		512.5:     "$512.50",
		1000:      "$1,000.00",
		95234.56:  "$95,234.56",
		1234567.8: "$1,234,567.80",
		-42000.5:  "-$42,000.50",
		100000000: "$100,000,000.00",
		999.999:   "$1,000.00",
	}
	for in, want := range cases {
		if got := FormatPrice(in); got != want {
			t.Errorf("FormatPrice(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestAbbreviatePrice(t *testing.T) {
	cases := map[float64]string{
		512:       "$512",
		95234:     "$95.2K",
		1000:      "$1.0K",
		1_240_000: "$1.2M",
		2_000_000: "$2.0M",
	}
	for in, want := range cases {
		if got := AbbreviatePrice(in); got != want {
			t.Errorf("AbbreviatePrice(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	cases := map[time.Duration]string{
		45 * time.Second:             "45s",
		12 * time.Minute:             "12m",
		3 * time.Hour:                "3h",
		3*time.Hour + 20*time.Minute: "3h20m",
		4*24*time.Hour + 5*time.Hour: "4d",
	}
	for in, want := range cases {
		if got := FormatAge(in); got != want {
			t.Errorf("FormatAge(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC)
	if got := FormatDate(ts); got != "2024-02-29" {
		t.Errorf("FormatDate = %q", got)
	}
	if got := FormatDateTime(ts); got != "2024-02-29 23:30 UTC" {
		t.Errorf("FormatDateTime = %q", got)
	}
	if got := FormatDate(time.Time{}); got != "-" {
		t.Errorf("FormatDate(zero) = %q", got)
	}
	if got := FormatPercent(3.254); got != "+3.25%" {
		t.Errorf("FormatPercent = %q", got)
	}
}
