package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteWriteCapture is a fake remote write endpoint that decodes every
// pushed WriteRequest.
type remoteWriteCapture struct {
	mu       sync.Mutex
	requests []*prompb.WriteRequest
}

func (c *remoteWriteCapture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &req))

		c.mu.Lock()
		c.requests = append(c.requests, &req)
		c.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}
}

func (c *remoteWriteCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// seriesValue returns the sample values, in order, of every timeseries in
// request i whose __name__ label matches name.
func (c *remoteWriteCapture) seriesValues(i int, name string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var values []float64
	for _, ts := range c.requests[i].Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" && l.Value == name {
				for _, s := range ts.Samples {
					values = append(values, s.Value)
				}
			}
		}
	}
	return values
}

func TestPushRegistry_BuffersUntilFlush(t *testing.T) {
	capture := &remoteWriteCapture{}
	srv := httptest.NewServer(capture.handler(t))
	defer srv.Close()

	registry := NewPushRegistry(PushConfig{
		URL:      srv.URL,
		Prefix:   "repeater",
		Job:      "repeater",
		Instance: "host1",
	})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "runs_in_flight"})
	require.NoError(t, err)
	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "runs_completed_total"})
	require.NoError(t, err)

	gauge.Set(3)
	counter.Inc()
	counter.Add(2)

	// Updates only buffer; nothing reaches the endpoint before Flush.
	assert.Equal(t, 0, capture.count())

	require.NoError(t, registry.Flush(context.Background()))
	require.Equal(t, 1, capture.count())

	assert.Equal(t, []float64{3}, capture.seriesValues(0, "repeater_runs_in_flight"))
	assert.Equal(t, []float64{1, 3}, capture.seriesValues(0, "repeater_runs_completed_total"),
		"counter samples carry the accumulated value")

	capture.mu.Lock()
	for _, ts := range capture.requests[0].Timeseries {
		labels := make(map[string]string, len(ts.Labels))
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}
		assert.Equal(t, "repeater", labels["job"])
		assert.Equal(t, "host1", labels["instance"])
	}
	capture.mu.Unlock()
}

func TestPushRegistry_FlushClearsBuffer(t *testing.T) {
	capture := &remoteWriteCapture{}
	srv := httptest.NewServer(capture.handler(t))
	defer srv.Close()

	registry := NewPushRegistry(PushConfig{URL: srv.URL})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "g"})
	require.NoError(t, err)
	gauge.Set(1)

	require.NoError(t, registry.Flush(context.Background()))
	assert.Equal(t, 1, capture.count())

	// A second flush with no new samples sends nothing.
	require.NoError(t, registry.Flush(context.Background()))
	assert.Equal(t, 1, capture.count())
}

func TestPushRegistry_FlushEmptyIsNoop(t *testing.T) {
	// No server at all: an empty flush must not touch the network.
	registry := NewPushRegistry(PushConfig{URL: "http://127.0.0.1:1"})
	assert.NoError(t, registry.Flush(context.Background()))
}

func TestPushRegistry_FlushServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	registry := NewPushRegistry(PushConfig{URL: srv.URL})

	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "c"})
	require.NoError(t, err)
	counter.Inc()

	err = registry.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestNopRegistry(t *testing.T) {
	registry := NewNopRegistry()

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "g"})
	require.NoError(t, err)
	counter, err := registry.NewCounter(prometheus.CounterOpts{Name: "c"})
	require.NoError(t, err)

	// Updates are discarded without panicking.
	gauge.Set(1)
	counter.Inc()
	counter.Add(5)

	assert.NoError(t, registry.Flush(context.Background()))
}
