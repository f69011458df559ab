// Package health отдаёт liveness/readiness пробы маркетплейса и сводный отчёт по зависимостям.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Status — состояние зависимости или сервиса в целом.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultProbeTimeout = 2 * time.Second

// Probe — проверка одной зависимости.
// Ошибка обязательной пробы снимает готовность, опциональной только понижает статус до degraded.
type Probe struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool
}

// Check — результат одной пробы.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — тело ответа /healthz.
type Report struct {
	Status        Status    `json:"status"`
	Version       string    `json:"version,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Checks        []Check   `json:"checks"`
}

// Registry хранит пробы и собирает по ним отчёт.
type Registry struct {
	mu      sync.RWMutex
	probes  []Probe
	version string
	started time.Time
	timeout time.Duration
	now     func() time.Time
}

// Option настраивает Registry.
type Option func(*Registry)

// WithProbeTimeout ограничивает время каждой пробы.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(version string, opts ...Option) *Registry {
	r := &Registry{version: version, timeout: defaultProbeTimeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// Add регистрирует пробу; проба с тем же именем заменяется.
func (r *Registry) Add(p Probe) {
	if p.Ping == nil || strings.TrimSpace(p.Name) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.probes = slices.DeleteFunc(r.probes, func(old Probe) bool { return old.Name == p.Name })
	r.probes = append(r.probes, p)
	slices.SortFunc(r.probes, func(a, b Probe) int { return strings.Compare(a.Name, b.Name) })
}

// Report запускает пробы параллельно и сводит результат.
func (r *Registry) Report(ctx context.Context) Report {
	r.mu.RLock()
	probes := slices.Clone(r.probes)
	timeout := r.timeout
	r.mu.RUnlock()

	checks := make([]Check, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checks[i] = run(ctx, p, timeout)
		}()
	}
	wg.Wait()

	now := r.now()
	return Report{
		Status:        overall(checks),
		Version:       r.version,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(r.started).Seconds()),
		Checks:        checks,
	}
}

func run(ctx context.Context, p Probe, timeout time.Duration) Check {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	check := Check{Name: p.Name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusUnhealthy
		if p.Optional {
			check.Status = StatusDegraded
		}
	}
	return check
}

func overall(checks []Check) Status {
	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// ServeHTTP отдаёт полный отчёт; 503, если сервис неготов.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	report := r.Report(req.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready — readiness probe: 503, пока недоступна хотя бы одна обязательная зависимость.
func (r *Registry) Ready(w http.ResponseWriter, req *http.Request) {
	if r.Report(req.Context()).Status == StatusUnhealthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready"))
}

// Live — liveness probe, отвечает 200, пока процесс обслуживает запросы.
func Live(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}
