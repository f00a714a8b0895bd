// Package metrics 以 Prometheus 文本格式暴露客户端的出站调用指标：
// 对中继接口的请求量、错误数与耗时分布。
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	endpoint string
	method   string
	code     string
}

type errorKey struct {
	endpoint string
	method   string
}

type latencyKey struct {
	endpoint string
	method   string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[errorKey]uint64
	latency  map[latencyKey]*histogram
}

var relayerCollector = &collector{
	requests: make(map[requestKey]uint64),
	errors:   make(map[errorKey]uint64),
	latency:  make(map[latencyKey]*histogram),
}

// ObserveRelayerRequest 记录一次对中继接口的请求。status 为 0 表示
// 请求未收到响应（传输层失败）。
func ObserveRelayerRequest(endpoint, method string, status int, duration time.Duration) {
	relayerCollector.observe(endpoint, method, status, duration)
}

func (c *collector) observe(endpoint, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKey := requestKey{endpoint: endpoint, method: method, code: strconv.Itoa(status)}
	c.requests[reqKey]++
	if status == 0 || status >= 500 {
		errKey := errorKey{endpoint: endpoint, method: method}
		c.errors[errKey]++
	}

	latKey := latencyKey{endpoint: endpoint, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
	// 超出最后一个桶的观测只计入 +Inf（即 h.count）。
}

// Handler 以 Prometheus 文本格式输出指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, relayerCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type requestMetric struct {
		requestKey
		value uint64
	}
	type errorMetric struct {
		errorKey
		value uint64
	}
	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	errs := make([]errorMetric, 0, len(c.errors))
	for key, value := range c.errors {
		errs = append(errs, errorMetric{errorKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].endpoint == reqs[j].endpoint {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].endpoint < reqs[j].endpoint
	})
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].endpoint == errs[j].endpoint {
			return errs[i].method < errs[j].method
		}
		return errs[i].endpoint < errs[j].endpoint
	})
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].endpoint == lats[j].endpoint {
			return lats[i].method < lats[j].method
		}
		return lats[i].endpoint < lats[j].endpoint
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP acp_relayer_requests_total Total number of relayer API requests issued.\n")
	builder.WriteString("# TYPE acp_relayer_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("acp_relayer_requests_total{endpoint=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.endpoint), escape(metric.method), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP acp_relayer_request_errors_total Total number of relayer API requests that failed.\n")
	builder.WriteString("# TYPE acp_relayer_request_errors_total counter\n")
	for _, metric := range errs {
		builder.WriteString(fmt.Sprintf("acp_relayer_request_errors_total{endpoint=\"%s\",method=\"%s\"} %d\n",
			escape(metric.endpoint), escape(metric.method), metric.value))
	}

	builder.WriteString("# HELP acp_relayer_request_duration_seconds Relayer API request duration in seconds.\n")
	builder.WriteString("# TYPE acp_relayer_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("acp_relayer_request_duration_seconds_bucket{endpoint=\"%s\",method=\"%s\",le=\"%s\"} %d\n",
				escape(metric.endpoint), escape(metric.method), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("acp_relayer_request_duration_seconds_bucket{endpoint=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.endpoint), escape(metric.method), metric.count))
		builder.WriteString(fmt.Sprintf("acp_relayer_request_duration_seconds_sum{endpoint=\"%s\",method=\"%s\"} %s\n",
			escape(metric.endpoint), escape(metric.method), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("acp_relayer_request_duration_seconds_count{endpoint=\"%s\",method=\"%s\"} %d\n",
			escape(metric.endpoint), escape(metric.method), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer 启动独立的 /metrics HTTP 服务，阻塞直到 ctx 取消。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
