package utils_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/insights_backend/utils"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"Monthly Sales Report", "monthly_sales_report"},
		{"  Q1 / 2024  ", "q1_2024"},
		{"***", "report"},
		{"Ops-Dashboard (v2)", "ops_dashboard_v2"},
	}
	for _, tc := range cases {
		if got := utils.Slugify(tc.in); got != tc.expected {
			t.Fatalf("Slugify(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestContentHashIsStable(t *testing.T) {
	payload := []byte(`{"summary":{},"details":[]}`)
	first := utils.ContentHash(payload)
	second := utils.ContentHash(payload)
	if first != second {
		t.Fatal("same payload must hash identically")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256, got %q", first)
	}
	if utils.ContentHash([]byte(`{"summary":{"total":1},"details":[]}`)) == first {
		t.Fatal("different payloads must hash differently")
	}
}

func TestDereferencePtr(t *testing.T) {
	if got := utils.DereferencePtr(utils.NewInt(7), 9); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	var nilInt *int
	if got := utils.DereferencePtr(nilInt, 9); got != 9 {
		t.Fatalf("expected default 9, got %d", got)
	}
	if got := utils.DereferencePtr(utils.NewInt(0), 9); got != 0 {
		t.Fatalf("explicit zero must win over the default, got %d", got)
	}
	var nilBool *bool
	if got := utils.DereferencePtr(nilBool); got != false {
		t.Fatal("expected zero value without a default")
	}
}

func TestUniqueSlice(t *testing.T) {
	got := utils.UniqueSlice([]string{"Xlsx", "Csv", "Xlsx", "Csv"})
	if len(got) != 2 || got[0] != "Xlsx" || got[1] != "Csv" {
		t.Fatalf("expected first-occurrence order without duplicates, got %v", got)
	}
}

func TestMarshalOrNull(t *testing.T) {
	if got := string(utils.MarshalOrNull(nil)); got != "null" {
		t.Fatalf("expected null, got %s", got)
	}
	if got := string(utils.MarshalOrNull(map[string]any{"a": 1})); got != `{"a":1}` {
		t.Fatalf("unexpected payload %s", got)
	}
}

func TestWidgetCacheKey(t *testing.T) {
	if got := utils.WidgetCacheKey("biz-1", 42); got != "WidgetData:biz-1:42" {
		t.Fatalf("unexpected key %q", got)
	}
}
