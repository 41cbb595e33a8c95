package config

import (
	"os"
	"strconv"
	"strings"
)

// WidgetCacheEnabled controls whether dashboard widget loads consult Redis.
// When disabled every widget load recomputes through the query executor.
//
// Set via env:
// - ENABLE_WIDGET_CACHE=true (default true)
func WidgetCacheEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_WIDGET_CACHE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y" || v == "on"
}

// WidgetCacheDefaultTTL is the fallback refresh interval (seconds) when neither
// the widget nor its dashboard specifies one.
//
// Set via env:
// - WIDGET_CACHE_DEFAULT_TTL_SECONDS (default 300)
func WidgetCacheDefaultTTL() int {
	ttl := 300
	if v := strings.TrimSpace(os.Getenv("WIDGET_CACHE_DEFAULT_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return ttl
}

// WidgetConcurrency bounds how many widgets of one dashboard fetch load in parallel.
//
// Set via env:
// - WIDGET_CONCURRENCY (default 4)
func WidgetConcurrency() int {
	n := 4
	if v := strings.TrimSpace(os.Getenv("WIDGET_CONCURRENCY")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return n
}

// ReportSlowMs is the slow-generation log threshold in milliseconds.
//
// Set via env:
// - REPORT_SLOW_MS (default 500)
func ReportSlowMs() int64 {
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return ms
}
