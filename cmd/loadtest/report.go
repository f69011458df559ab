package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"
)

// statusTransport — запрос не дошёл до сервера или ответ не прочитан.
const statusTransport = "transport_error"

type latencyMs struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

type callSummary struct {
	Calls     int64            `json:"calls"`
	OK        int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	Latency   latencyMs        `json:"latency_ms"`
}

type report struct {
	Scenario   scenario               `json:"scenario"`
	Target     string                 `json:"target"`
	StartedAt  time.Time              `json:"started_at"`
	Elapsed    float64                `json:"elapsed_seconds"`
	Throughput float64                `json:"scenarios_per_second"`
	Scenarios  callSummary            `json:"scenarios"`
	Endpoints  map[string]callSummary `json:"endpoints"`
}

// series копит исходы и латентности одного вида вызова.
type series struct {
	ok       int64
	failed   int64
	statuses map[string]int64
	samples  []float64
}

func (s *series) add(took time.Duration, status int) {
	if s.statuses == nil {
		s.statuses = make(map[string]int64)
	}
	if isSuccess(status) {
		s.ok++
	} else {
		s.failed++
	}
	s.statuses[statusLabel(status)]++
	s.samples = append(s.samples, float64(took.Microseconds())/1000)
}

func (s *series) summary() callSummary {
	calls := s.ok + s.failed
	return callSummary{
		Calls:     calls,
		OK:        s.ok,
		Failed:    s.failed,
		ErrorRate: share(s.failed, calls),
		Statuses:  maps.Clone(s.statuses),
		Latency:   summarize(s.samples),
	}
}

// recorder потокобезопасно собирает статистику сценариев и отдельных вызовов API.
type recorder struct {
	mu        sync.Mutex
	scenarios series
	endpoints map[string]*series
}

func newRecorder() *recorder {
	return &recorder{endpoints: make(map[string]*series)}
}

func (r *recorder) observeScenario(took time.Duration, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios.add(took, status)
}

// call учитывает один HTTP-вызов; status == 0 означает транспортную ошибку.
func (r *recorder) call(endpoint string, took time.Duration, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.endpoints[endpoint]
	if !ok {
		s = &series{}
		r.endpoints[endpoint] = s
	}
	s.add(took, status)
}

func (r *recorder) endpoint(name string) (callSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.endpoints[name]
	if !ok {
		return callSummary{}, false
	}
	return s.summary(), true
}

func (r *recorder) scenarioSummary() callSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scenarios.summary()
}

func (r *recorder) report(opts options, started time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		Scenario:  opts.scenario,
		Target:    opts.target(),
		StartedAt: started.UTC(),
		Elapsed:   elapsed.Seconds(),
		Scenarios: r.scenarios.summary(),
		Endpoints: make(map[string]callSummary, len(r.endpoints)),
	}
	if elapsed > 0 {
		out.Throughput = float64(out.Scenarios.Calls) / elapsed.Seconds()
	}
	for name, s := range r.endpoints {
		out.Endpoints[name] = s.summary()
	}
	return out
}

func (r report) print(out io.Writer) {
	s := r.Scenarios
	_, _ = fmt.Fprintf(out, "scenario=%s target=%s scenarios=%d ok=%d failed=%d error_rate=%.4f\n",
		r.Scenario, r.Target, s.Calls, s.OK, s.Failed, s.ErrorRate)
	_, _ = fmt.Fprintf(out, "elapsed=%.2fs throughput=%.2f/s\n", r.Elapsed, r.Throughput)
	_, _ = fmt.Fprintf(out, "latency ms: min=%.2f mean=%.2f p50=%.2f p90=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		s.Latency.Min, s.Latency.Mean, s.Latency.P50, s.Latency.P90, s.Latency.P95, s.Latency.P99, s.Latency.Max)

	if len(r.Endpoints) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENDPOINT\tCALLS\tOK\tFAILED\tERROR_RATE\tP95_MS")
	for _, name := range slices.Sorted(maps.Keys(r.Endpoints)) {
		e := r.Endpoints[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.2f\n", name, e.Calls, e.OK, e.Failed, e.ErrorRate, e.Latency.P95)
	}
	_ = tw.Flush()
}

// writeReport сохраняет отчёт в JSON; относительный путь не может выходить за текущий каталог.
func writeReport(path string, r report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if !filepath.IsAbs(clean) && !filepath.IsLocal(clean) {
		return fmt.Errorf("output path escapes the working directory: %s", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func statusLabel(status int) string {
	if status == 0 {
		return statusTransport
	}
	return strconv.Itoa(status)
}

func summarize(samples []float64) latencyMs {
	if len(samples) == 0 {
		return latencyMs{}
	}
	sorted := slices.Sorted(slices.Values(samples))

	var total float64
	for _, v := range sorted {
		total += v
	}
	return latencyMs{
		Min:  sorted[0],
		Mean: total / float64(len(sorted)),
		P50:  quantile(sorted, 0.50),
		P90:  quantile(sorted, 0.90),
		P95:  quantile(sorted, 0.95),
		P99:  quantile(sorted, 0.99),
		Max:  sorted[len(sorted)-1],
	}
}

// quantile интерполирует между соседними значениями отсортированной выборки.
func quantile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
