// Package metrics exposes connection counters as Prometheus text format over
// net/http, formatted by hand the way the teacher's internal/metrics.go did
// for its upstream telemetry: no client_golang import, a sync.RWMutex-guarded
// map of label strings to values.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type telemetry struct {
	enabled bool
	mu      sync.RWMutex

	connectTotal    map[string]uint64
	disconnectTotal map[string]uint64
	rectsTotal      map[string]uint64
	bytesSent       uint64
	bytesReceived   uint64
}

var (
	mu sync.RWMutex
	t  = telemetry{}
)

// Enable turns on metric collection; observe* calls before Enable are no-ops.
func Enable() {
	mu.Lock()
	defer mu.Unlock()
	if t.enabled {
		return
	}
	t.connectTotal = make(map[string]uint64)
	t.disconnectTotal = make(map[string]uint64)
	t.rectsTotal = make(map[string]uint64)
	t.enabled = true
}

// StartServer runs a /metrics HTTP endpoint until ctx is cancelled.
func StartServer(ctx context.Context, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty metrics address")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// ObserveConnect records the outcome of a connect attempt (ok/failed).
func ObserveConnect(host string, ok bool) {
	mu.RLock()
	if !t.enabled {
		mu.RUnlock()
		return
	}
	t.mu.Lock()
	mu.RUnlock()
	defer t.mu.Unlock()
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	t.connectTotal[fmt.Sprintf("host=%s,outcome=%s", host, outcome)]++
}

// ObserveDisconnect records why a connection ended (graceful/remote/error).
func ObserveDisconnect(host, reason string) {
	mu.RLock()
	if !t.enabled {
		mu.RUnlock()
		return
	}
	t.mu.Lock()
	mu.RUnlock()
	defer t.mu.Unlock()
	t.disconnectTotal[fmt.Sprintf("host=%s,reason=%s", host, reason)]++
}

// ObserveRect counts one decoded rectangle by its encoding name.
func ObserveRect(encoding string) {
	mu.RLock()
	if !t.enabled {
		mu.RUnlock()
		return
	}
	t.mu.Lock()
	mu.RUnlock()
	defer t.mu.Unlock()
	t.rectsTotal[fmt.Sprintf("encoding=%s", encoding)]++
}

// ObserveBytes adds to the cumulative sent/received byte counters.
func ObserveBytes(sent, received uint64) {
	mu.RLock()
	if !t.enabled {
		mu.RUnlock()
		return
	}
	t.mu.Lock()
	mu.RUnlock()
	defer t.mu.Unlock()
	t.bytesSent += sent
	t.bytesReceived += received
}

func handler(w http.ResponseWriter, _ *http.Request) {
	mu.RLock()
	enabled := t.enabled
	mu.RUnlock()
	if !enabled {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("# metrics disabled\n"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	t.mu.RLock()
	defer t.mu.RUnlock()

	writeCounterVec(w, "govnc_connect_total", t.connectTotal)
	writeCounterVec(w, "govnc_disconnect_total", t.disconnectTotal)
	writeCounterVec(w, "govnc_rects_total", t.rectsTotal)
	fmt.Fprintf(w, "govnc_bytes_sent_total %d\n", t.bytesSent)
	fmt.Fprintf(w, "govnc_bytes_received_total %d\n", t.bytesReceived)
}

func writeCounterVec(w http.ResponseWriter, name string, data map[string]uint64) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s} %d\n", name, toPromLabels(k), data[k])
	}
}

func toPromLabels(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		parts[i] = fmt.Sprintf("%s=\"%s\"", kv[0], strings.ReplaceAll(kv[1], "\"", "\\\""))
	}
	return strings.Join(parts, ",")
}
