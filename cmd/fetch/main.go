package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fmogensen/investment-platform/internal/config"
	"github.com/fmogensen/investment-platform/internal/httpx"
	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/provider/finnhub"
	"github.com/fmogensen/investment-platform/internal/provider/ratelimit"
	"github.com/fmogensen/investment-platform/internal/provider/registry"
	"github.com/fmogensen/investment-platform/internal/provider/twelvedata"
	"github.com/fmogensen/investment-platform/internal/provider/yahoo"
	"github.com/fmogensen/investment-platform/internal/quote"
	"github.com/fmogensen/investment-platform/internal/usage"
)

func main() {
	var symbolsCSV string
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL"), "comma-separated ticker symbols")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 15), "request timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if timeout != 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	reg := registry.New()
	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey != "" {
		client, err := finnhub.NewAPIClient(cfg.Finnhub.APIKey,
			finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
			finnhub.WithHTTPClient(httpClient.HTTP),
		)
		if err != nil {
			log.Fatalf("finnhub client: %v", err)
		}
		fh := finnhub.New(finnhub.Config{StreamURL: cfg.Finnhub.StreamURL}, client)
		mustAdd(reg, registry.Entry{
			Provider:           limited(fh, cfg.Finnhub.MaxRequestsPerMin, cfg.Finnhub.Burst),
			Label:              "Finnhub",
			HasCredential:      true,
			Active:             true,
			Default:            cfg.Finnhub.Default,
			RateLimitPerMinute: cfg.Finnhub.MaxRequestsPerMin,
			DailyLimit:         cfg.Finnhub.DailyLimit,
			ApplyCredential:    client.SetToken,
		})
	}
	if cfg.TwelveData.Enabled && cfg.TwelveData.APIKey != "" {
		td := twelvedata.New(twelvedata.Config{
			URL:    cfg.TwelveData.BaseURL,
			APIKey: cfg.TwelveData.APIKey,
		}, httpClient)
		mustAdd(reg, registry.Entry{
			Provider:           limited(td, cfg.TwelveData.MaxRequestsPerMin, cfg.TwelveData.Burst),
			Label:              "Twelve Data",
			HasCredential:      true,
			Active:             true,
			Default:            cfg.TwelveData.Default,
			RateLimitPerMinute: cfg.TwelveData.MaxRequestsPerMin,
			DailyLimit:         cfg.TwelveData.DailyLimit,
			ApplyCredential:    td.SetAPIKey,
		})
	}
	if cfg.Yahoo.Enabled {
		mustAdd(reg, registry.Entry{
			Provider:      yahoo.New(),
			Label:         "Yahoo Finance",
			HasCredential: true,
			Active:        true,
			Default:       cfg.Yahoo.Default,
		})
	}
	if len(reg.Providers()) == 0 {
		log.Fatal("no providers configured; set config.json API keys or env overrides")
	}

	var caches []quote.Cache
	if cfg.Quotes.CacheTTLSeconds > 0 {
		caches = append(caches, quote.NewMemoryCache(time.Duration(cfg.Quotes.CacheTTLSeconds)*time.Second, 1000))
	}
	fetcher := &quote.Fetcher{
		Registry:       reg,
		Caches:         caches,
		Recorder:       usage.NewMemoryRecorder(0),
		AttemptTimeout: time.Duration(cfg.Quotes.AttemptTimeoutSec) * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second*2)
	defer cancel()

	out := make(map[string]any)
	for _, symbol := range splitCSV(symbolsCSV) {
		symbol = strings.ToUpper(symbol)
		q, err := fetcher.GetQuote(ctx, symbol)
		if err != nil {
			out[symbol] = map[string]string{"error": err.Error()}
			continue
		}
		out[symbol] = q
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

func mustAdd(reg *registry.Registry, e registry.Entry) {
	if err := reg.Add(e); err != nil {
		log.Fatalf("register %s: %v", e.Label, err)
	}
}

func limited(p provider.Provider, perMinute, burst int) provider.Provider {
	if perMinute <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &ratelimit.TokenBucketProvider{P: p, TB: ratelimit.NewTokenBucket(float64(perMinute)/60.0, burst)}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		if _, err := fmt.Sscanf(v, "%d", &x); err == nil {
			return x
		}
	}
	return def
}
