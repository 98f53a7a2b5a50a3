package finnhub_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/provider/finnhub"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *finnhub.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := finnhub.NewAPIClient("secret", finnhub.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return finnhub.New(finnhub.Config{}, client)
}

func TestQuote_MapsFields(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":190.5,"d":1.2,"dp":0.63,"h":191,"l":188,"o":189,"pc":189.3,"t":1700000000}`))
	})

	q, err := p.Quote(t.Context(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL", q.Symbol)
	require.Equal(t, 190.5, q.Price)
	require.Equal(t, 1.2, q.Change)
	require.Equal(t, 0.63, q.ChangePercent)
	require.Equal(t, "finnhub", q.Source)
	require.Equal(t, "USD", q.Currency)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), q.AsOf)
}

func TestQuote_UnknownSymbolIsNotFound(t *testing.T) {
	t.Parallel()

	// Finnhub answers 200 with zero fields for unknown symbols.
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	})

	_, err := p.Quote(t.Context(), "BOGUS")
	require.ErrorIs(t, err, provider.ErrNotFound)
}

func TestQuote_NoCredential(t *testing.T) {
	t.Parallel()

	client, err := finnhub.NewAPIClient("")
	require.NoError(t, err)
	p := finnhub.New(finnhub.Config{}, client)

	_, err = p.Quote(t.Context(), "AAPL")
	require.ErrorIs(t, err, provider.ErrNoCredential)
	_, err = p.Search(t.Context(), "apple")
	require.ErrorIs(t, err, provider.ErrNoCredential)
	_, err = p.StreamURL()
	require.ErrorIs(t, err, provider.ErrNoCredential)
}

func TestStreamURL_CarriesToken(t *testing.T) {
	t.Parallel()

	client, err := finnhub.NewAPIClient("secret")
	require.NoError(t, err)
	p := finnhub.New(finnhub.Config{StreamURL: "wss://ws.example.test"}, client)

	u, err := p.StreamURL()
	require.NoError(t, err)
	require.Equal(t, "wss://ws.example.test?token=secret", u)
}

func TestSubscribeFrames(t *testing.T) {
	t.Parallel()

	client, err := finnhub.NewAPIClient("secret")
	require.NoError(t, err)
	p := finnhub.New(finnhub.Config{}, client)

	sub, err := p.SubscribeFrame("AAPL")
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"subscribe","symbol":"AAPL"}`, string(sub))

	unsub, err := p.UnsubscribeFrame("AAPL")
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"unsubscribe","symbol":"AAPL"}`, string(unsub))
}

func TestParseFrame(t *testing.T) {
	t.Parallel()

	client, err := finnhub.NewAPIClient("secret")
	require.NoError(t, err)
	p := finnhub.New(finnhub.Config{}, client)

	trades, err := p.ParseFrame([]byte(`{"type":"trade","data":[{"p":190.5,"s":"AAPL","t":1700000000000,"v":100}]}`))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "AAPL", trades[0].Symbol)
	require.Equal(t, 190.5, trades[0].Price)
	require.Equal(t, float64(100), trades[0].Volume)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), trades[0].At)

	// pings carry no trades and are not errors
	trades, err = p.ParseFrame([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Empty(t, trades)

	_, err = p.ParseFrame([]byte(`not json`))
	require.Error(t, err)
}

func TestSearch_MapsResults(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "apple", r.URL.Query().Get("q"))
		w.Write([]byte(`{"count":1,"result":[{"description":"APPLE INC","displaySymbol":"AAPL","symbol":"AAPL","type":"Common Stock"}]}`))
	})

	results, err := p.Search(t.Context(), "apple")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "AAPL", results[0].Symbol)
	require.Equal(t, "APPLE INC", results[0].Description)
	require.Equal(t, "finnhub", results[0].Source)
}
