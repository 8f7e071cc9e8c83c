package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/coupon-engine/internal/common"
)

// Probe checks one dependency. It must honour ctx.
type Probe func(ctx context.Context) error

var notReady atomic.Bool

// SetReady toggles process readiness. Draining servers flip it to false so
// load balancers stop routing before shutdown.
func SetReady(ready bool) {
	notReady.Store(!ready)
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes  map[string]Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently and reports 503 when any fails or the
// process is draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if notReady.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = "ok"
			if err := probe(ctx); err != nil {
				results[i] = err.Error()
			}
		}(i, h.Probes[name])
	}
	wg.Wait()

	status := make(map[string]string, len(names)+1)
	code := http.StatusOK
	for i, name := range names {
		status[name] = results[i]
		if results[i] != "ok" {
			code = http.StatusServiceUnavailable
		}
	}
	status["status"] = "ok"
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	common.JSON(w, code, status)
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}
