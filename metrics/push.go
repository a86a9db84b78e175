package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

// DefaultTimeout is the default timeout for HTTP requests.
const DefaultTimeout = 30 * time.Second

// PushRegistry implements Registry for push-based metrics collection.
// Every metric update is buffered as a timestamped sample; Flush writes
// the whole buffer to a VictoriaMetrics/Prometheus remote write endpoint
// as one WriteRequest. Updates themselves never block on the network.
type PushRegistry struct {
	pusher *pusher
}

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint
	// (e.g., "http://localhost:9090").
	URL string
	// Prefix is prepended, with an underscore, to all metric names.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// NewPushRegistry creates a new PushRegistry that pushes metrics to the
// given URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &PushRegistry{pusher: &pusher{
		url:        cfg.URL + "/api/v1/write",
		httpClient: &http.Client{Timeout: timeout},
		prefix:     cfg.Prefix,
		job:        cfg.Job,
		instance:   cfg.Instance,
	}}
}

// NewGauge creates a new push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushGauge{pusher: r.pusher, name: opts.Name}, nil
}

// NewCounter creates a new push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushCounter{pusher: r.pusher, name: opts.Name}, nil
}

// Flush sends all buffered samples to the remote write endpoint in a
// single request and clears the buffer. Flushing an empty buffer is a
// no-op.
func (r *PushRegistry) Flush(ctx context.Context) error {
	return r.pusher.flush(ctx)
}

// sample is one buffered metric point.
type sample struct {
	name  string
	value float64
	at    time.Time
}

// pusher buffers samples and handles remote write to
// VictoriaMetrics/Prometheus.
type pusher struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string

	mu      sync.Mutex
	samples []sample
}

// record buffers one sample, stamped with the current time.
func (p *pusher) record(name string, value float64) {
	p.mu.Lock()
	p.samples = append(p.samples, sample{name: name, value: value, at: time.Now()})
	p.mu.Unlock()
}

// flush writes the buffered samples as one WriteRequest.
func (p *pusher) flush(ctx context.Context) error {
	p.mu.Lock()
	samples := p.samples
	p.samples = nil
	p.mu.Unlock()

	if len(samples) == 0 {
		return nil
	}

	timeseries := make([]prompb.TimeSeries, 0, len(samples))
	for _, s := range samples {
		timeseries = append(timeseries, p.timeSeries(s))
	}

	req := &prompb.WriteRequest{Timeseries: timeseries}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	compressed := snappy.Encode(nil, data)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// timeSeries converts a sample to Prometheus TimeSeries format.
func (p *pusher) timeSeries(s sample) prompb.TimeSeries {
	metricName := s.name
	if p.prefix != "" {
		metricName = p.prefix + "_" + s.name
	}

	labels := make([]prompb.Label, 0, 3)
	labels = append(labels, prompb.Label{Name: "__name__", Value: metricName})
	if p.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: p.job})
	}
	if p.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: p.instance})
	}

	return prompb.TimeSeries{
		Labels: labels,
		Samples: []prompb.Sample{{
			Value:     s.value,
			Timestamp: s.at.UnixMilli(),
		}},
	}
}

// pushGauge implements Gauge for push mode.
type pushGauge struct {
	pusher *pusher
	name   string
}

func (g *pushGauge) Set(v float64) {
	g.pusher.record(g.name, v)
}

// pushCounter implements Counter for push mode.
type pushCounter struct {
	mu     sync.Mutex
	pusher *pusher
	name   string
	value  float64
}

func (c *pushCounter) Inc() {
	c.Add(1)
}

func (c *pushCounter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	value := c.value
	c.mu.Unlock()
	c.pusher.record(c.name, value)
}
