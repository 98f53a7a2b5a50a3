package stream_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmogensen/investment-platform/internal/provider"
	"github.com/fmogensen/investment-platform/internal/stream"
)

func TestSSE_RequiresSymbols(t *testing.T) {
	t.Parallel()

	b := stream.NewBroker(stream.Config{}, nil)
	h := stream.SSEHandler(b, time.Minute)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSSE_DeliversEvents(t *testing.T) {
	t.Parallel()

	b := stream.NewBroker(stream.Config{}, nil)
	srv := httptest.NewServer(stream.SSEHandler(b, time.Minute))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?symbols=AAPL,TSLA")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() stream.Event {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			require.True(t, strings.HasPrefix(line, "data: "))
			var ev stream.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			return ev
		}
	}

	require.Equal(t, "connected", readEvent().Type)

	// wait for the subscription to land before publishing
	require.Eventually(t, func() bool {
		return len(b.Symbols()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	b.Publish(provider.Trade{Symbol: "AAPL", Price: 190.5, At: time.Now()})
	ev := readEvent()
	require.Equal(t, "quote", ev.Type)
	require.Equal(t, "AAPL", ev.Quote.Symbol)
	require.Equal(t, 190.5, ev.Quote.Price)
}

func TestSSE_LifetimeCloses(t *testing.T) {
	t.Parallel()

	b := stream.NewBroker(stream.Config{}, nil)
	srv := httptest.NewServer(stream.SSEHandler(b, 50*time.Millisecond))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?symbols=AAPL")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	var sawLifetimeError bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break // server closed the stream
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		if ev.Type == "error" && strings.Contains(ev.Message, "lifetime") {
			sawLifetimeError = true
		}
	}
	require.True(t, sawLifetimeError, "client must be told to reconnect before close")
}
