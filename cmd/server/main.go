package main

import (
	"compress/gzip"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/fmogensen/investment-platform/internal/config"
	"github.com/fmogensen/investment-platform/internal/httpx"
	"github.com/fmogensen/investment-platform/internal/portfolio"
	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/provider/finnhub"
	"github.com/fmogensen/investment-platform/internal/provider/ratelimit"
	"github.com/fmogensen/investment-platform/internal/provider/registry"
	"github.com/fmogensen/investment-platform/internal/provider/twelvedata"
	"github.com/fmogensen/investment-platform/internal/provider/yahoo"
	"github.com/fmogensen/investment-platform/internal/quote"
	"github.com/fmogensen/investment-platform/internal/store"
	"github.com/fmogensen/investment-platform/internal/stream"
	"github.com/fmogensen/investment-platform/internal/usage"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey == "" {
		log.Println("warning: finnhub.enabled=true but FINNHUB_API_KEY not set")
	}
	if cfg.TwelveData.Enabled && cfg.TwelveData.APIKey == "" {
		log.Println("warning: twelvedata.enabled=true but TWELVEDATA_API_KEY not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	// Providers, default-first order is the registry's concern.
	reg := registry.New()
	var streamer provider.Streamer

	if cfg.Finnhub.Enabled {
		client, err := finnhub.NewAPIClient(cfg.Finnhub.APIKey,
			finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
			finnhub.WithHTTPClient(httpClient.HTTP),
		)
		if err != nil {
			log.Fatalf("finnhub client: %v", err)
		}
		fh := finnhub.New(finnhub.Config{StreamURL: cfg.Finnhub.StreamURL}, client)
		streamer = fh
		if err := reg.Add(registry.Entry{
			Provider:           limited(fh, cfg.Finnhub.MaxRequestsPerMin, cfg.Finnhub.Burst),
			Label:              "Finnhub",
			HasCredential:      cfg.Finnhub.APIKey != "",
			Active:             true,
			Default:            cfg.Finnhub.Default,
			RateLimitPerMinute: cfg.Finnhub.MaxRequestsPerMin,
			DailyLimit:         cfg.Finnhub.DailyLimit,
			ApplyCredential:    client.SetToken,
		}); err != nil {
			log.Fatalf("register finnhub: %v", err)
		}
	}
	if cfg.TwelveData.Enabled {
		td := twelvedata.New(twelvedata.Config{
			URL:    cfg.TwelveData.BaseURL,
			APIKey: cfg.TwelveData.APIKey,
		}, httpClient)
		if err := reg.Add(registry.Entry{
			Provider:           limited(td, cfg.TwelveData.MaxRequestsPerMin, cfg.TwelveData.Burst),
			Label:              "Twelve Data",
			HasCredential:      cfg.TwelveData.APIKey != "",
			Active:             true,
			Default:            cfg.TwelveData.Default,
			RateLimitPerMinute: cfg.TwelveData.MaxRequestsPerMin,
			DailyLimit:         cfg.TwelveData.DailyLimit,
			ApplyCredential:    td.SetAPIKey,
		}); err != nil {
			log.Fatalf("register twelvedata: %v", err)
		}
	}
	if cfg.Yahoo.Enabled {
		if err := reg.Add(registry.Entry{
			Provider:      yahoo.New(),
			Label:         "Yahoo Finance",
			HasCredential: true, // credential-free upstream
			Active:        true,
			Default:       cfg.Yahoo.Default,
		}); err != nil {
			log.Fatalf("register yahoo: %v", err)
		}
	}

	// Cache tiers: memory in front, Redis behind when configured.
	var caches []quote.Cache
	if cfg.Quotes.CacheTTLSeconds > 0 {
		caches = append(caches, quote.NewMemoryCache(time.Duration(cfg.Quotes.CacheTTLSeconds)*time.Second, 10000))
	}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		caches = append(caches, quote.NewRedisCache(rdb, time.Duration(cfg.Redis.CacheTTLSeconds)*time.Second))
	}

	// Persistence is optional; everything degrades to memory.
	var recorder usage.Recorder = usage.NewMemoryRecorder(0)
	ledger := portfolio.NewLedger()
	watchlist := portfolio.NewWatchlist()
	var pstore *portfolio.Store
	if cfg.Database.URL != "" {
		db, err := store.Open(cfg.Database.URL)
		if err != nil {
			log.Fatalf("store: %v", err)
		}
		defer db.Close()
		pg := usage.NewPostgresRecorder(db)
		defer pg.Close()
		recorder = pg
		pstore = portfolio.NewStore(db)
		if restored, err := pstore.RestoreLedger(ctx); err != nil {
			log.Printf("warning: restore ledger: %v", err)
		} else {
			ledger = restored
		}
		if symbols, err := pstore.LoadWatchlist(ctx); err != nil {
			log.Printf("warning: load watchlist: %v", err)
		} else {
			watchlist = portfolio.NewWatchlist(symbols...)
		}
	}

	fetcher := &quote.Fetcher{
		Registry:       reg,
		Caches:         caches,
		Recorder:       recorder,
		AttemptTimeout: time.Duration(cfg.Quotes.AttemptTimeoutSec) * time.Second,
	}

	streamCfg := stream.Config{
		PollInterval:         time.Duration(cfg.Stream.PollIntervalSec) * time.Second,
		HeartbeatEvery:       cfg.Stream.HeartbeatEvery,
		MaxLifetime:          time.Duration(cfg.Stream.MaxLifetimeSec) * time.Second,
		BackoffBase:          time.Duration(cfg.Stream.BackoffBaseMS) * time.Millisecond,
		BackoffMax:           time.Duration(cfg.Stream.BackoffMaxMS) * time.Millisecond,
		MaxReconnectAttempts: cfg.Stream.ReconnectAttempts,
	}
	broker := stream.NewBroker(streamCfg, fetcher)
	broker.SetBaseSymbols(watchlist.Symbols)
	go broker.RunPolling(ctx)
	if streamer != nil {
		upstream := stream.NewUpstream(streamer, broker, streamCfg)
		broker.SetSymbolListener(upstream.SymbolsChanged)
		go func() {
			if err := upstream.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("stream: upstream stopped: %v", err)
			}
		}()
	}

	// Daily provider quota counters roll over at midnight.
	c := cron.New()
	if _, err := c.AddFunc("0 0 * * *", reg.ResetDailyCounters); err != nil {
		log.Fatalf("cron: %v", err)
	}
	c.Start()
	defer c.Stop()

	s := &server{
		cfg:       cfg,
		registry:  reg,
		fetcher:   fetcher,
		recorder:  recorder,
		ledger:    ledger,
		watchlist: watchlist,
		store:     pstore,
		broker:    broker,
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(withGzip(recoverPanic(limitBody(s.routes()))))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /api/stream responses outlive any fixed budget
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// limited wraps p with a token bucket when a per-minute limit is configured.
func limited(p provider.Provider, perMinute, burst int) provider.Provider {
	if perMinute <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &ratelimit.TokenBucketProvider{P: p, TB: ratelimit.NewTokenBucket(float64(perMinute)/60.0, burst)}
}

// withGzip compresses response when client supports gzip. Streaming
// endpoints are skipped so events flush immediately.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
			strings.HasPrefix(r.URL.Path, "/api/stream") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
