package commission

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestDefaultScheduleIsValid(t *testing.T) {
	if err := DefaultSchedule().Validate(); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
}

func TestScheduleMatchUsesHalfOpenBands(t *testing.T) {
	schedule := DefaultSchedule()
	cases := []struct {
		turnover string
		want     string
	}{
		{"0", "starter"},
		{"4999.99", "starter"},
		{"5000", "growth"},
		{"19999.99", "growth"},
		{"20000", "scale"},
		{"1000000", "scale"},
	}
	for _, tc := range cases {
		tier, ok := schedule.Match(dec(tc.turnover))
		if !ok {
			t.Fatalf("turnover %s matched no tier", tc.turnover)
		}
		if tier.Name != tc.want {
			t.Fatalf("turnover %s: expected %s, got %s", tc.turnover, tc.want, tier.Name)
		}
	}
	if _, ok := schedule.Match(dec("-1")); ok {
		t.Fatalf("negative turnover should not match")
	}
}

func TestScheduleValidateRejectsBrokenBands(t *testing.T) {
	five := dec("5000")
	four := dec("4000")
	cases := map[string]Schedule{
		"gap": {Version: "v", Tiers: []Tier{
			{Name: "a", MinTurnover: decimal.Zero, MaxTurnover: &four, Rate: dec("0.10")},
			{Name: "b", MinTurnover: five, Rate: dec("0.08")},
		}},
		"increasing rate": {Version: "v", Tiers: []Tier{
			{Name: "a", MinTurnover: decimal.Zero, MaxTurnover: &five, Rate: dec("0.08")},
			{Name: "b", MinTurnover: five, Rate: dec("0.10")},
		}},
		"bounded top": {Version: "v", Tiers: []Tier{
			{Name: "a", MinTurnover: decimal.Zero, MaxTurnover: &five, Rate: dec("0.10")},
		}},
		"not from zero": {Version: "v", Tiers: []Tier{
			{Name: "a", MinTurnover: five, Rate: dec("0.10")},
		}},
		"rate above one": {Version: "v", Tiers: []Tier{
			{Name: "a", MinTurnover: decimal.Zero, Rate: dec("1.5")},
		}},
		"rate finer than stored scale": {Version: "v", Tiers: []Tier{
			{Name: "a", MinTurnover: decimal.Zero, Rate: dec("0.08125")},
		}},
		"missing version": {Tiers: []Tier{
			{Name: "a", MinTurnover: decimal.Zero, Rate: dec("0.10")},
		}},
		"empty": {Version: "v"},
	}
	for name, schedule := range cases {
		schedule := schedule
		if err := schedule.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	doc := `
version: 2026-03
tiers:
  - name: starter
    min_turnover: "0"
    max_turnover: "2500"
    rate: "0.12"
  - name: pro
    min_turnover: "2500"
    rate: "0.07"
`
	schedule, err := ParseSchedule([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if schedule.Version != "2026-03" {
		t.Fatalf("unexpected version %q", schedule.Version)
	}
	if len(schedule.Tiers) != 2 || schedule.Tiers[1].MaxTurnover != nil {
		t.Fatalf("unexpected tiers %+v", schedule.Tiers)
	}
	if !schedule.Tiers[0].Rate.Equal(dec("0.12")) {
		t.Fatalf("unexpected starter rate %s", schedule.Tiers[0].Rate)
	}
}

func TestParseScheduleRejectsInvalidDocuments(t *testing.T) {
	if _, err := ParseSchedule([]byte("version: v\ntiers:\n  - name: a\n    min_turnover: abc\n    rate: \"0.1\"\n")); err == nil {
		t.Fatalf("expected decimal parse error")
	}
	_, err := ParseSchedule([]byte("version: v\ntiers:\n  - name: a\n    min_turnover: \"0\"\n    max_turnover: \"10\"\n    rate: \"0.1\"\n"))
	if err == nil || !strings.Contains(err.Error(), "unbounded") {
		t.Fatalf("expected unbounded top tier error, got %v", err)
	}
}

func TestLoadSchedule(t *testing.T) {
	schedule, err := LoadSchedule("")
	if err != nil || schedule.Version != DefaultSchedule().Version {
		t.Fatalf("expected default schedule, got %+v err=%v", schedule, err)
	}

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := "version: file-v1\ntiers:\n  - name: flat\n    min_turnover: \"0\"\n    rate: \"0.05\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write schedule: %v", err)
	}
	schedule, err = LoadSchedule(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if schedule.Version != "file-v1" || !schedule.Tiers[0].Rate.Equal(dec("0.05")) {
		t.Fatalf("unexpected schedule %+v", schedule)
	}

	if _, err := LoadSchedule(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
