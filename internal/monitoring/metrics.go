package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Metrics struct {
	mu              sync.RWMutex
	RequestCount    int64            `json:"request_count"`
	RequestDuration time.Duration    `json:"avg_request_duration_ms"`
	ActiveRequests  int64            `json:"active_requests"`
	ErrorCount      int64            `json:"error_count"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Endpoints       map[string]int64 `json:"endpoint_calls"`
	StartTime       time.Time        `json:"start_time"`
	LastRequest     time.Time        `json:"last_request"`
	totalDuration   time.Duration
}

type HealthChecker struct {
	funcs  map[string]HealthCheckFunc
	checks map[string]HealthCheck
	stats  map[string]StatsFunc
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	LastRun time.Time `json:"last_run"`
}

type HealthCheckFunc func(ctx context.Context) error

// StatsFunc reports component counters such as store or pool statistics.
type StatsFunc func() interface{}

const checkTimeout = 5 * time.Second

var globalMetrics = &Metrics{
	StatusCodes: make(map[string]int64),
	Endpoints:   make(map[string]int64),
	StartTime:   time.Now(),
}

var globalHealthChecker = &HealthChecker{
	funcs:  make(map[string]HealthCheckFunc),
	checks: make(map[string]HealthCheck),
	stats:  make(map[string]StatsFunc),
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		globalMetrics.mu.Lock()
		globalMetrics.ActiveRequests++
		globalMetrics.mu.Unlock()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		endpoint := c.Request.Method + " " + route

		globalMetrics.mu.Lock()
		globalMetrics.RequestCount++
		globalMetrics.ActiveRequests--
		globalMetrics.totalDuration += duration
		globalMetrics.RequestDuration = globalMetrics.totalDuration / time.Duration(globalMetrics.RequestCount)
		globalMetrics.LastRequest = time.Now()

		statusStr := http.StatusText(statusCode)
		if statusCode >= 400 {
			globalMetrics.ErrorCount++
		}
		globalMetrics.StatusCodes[statusStr]++

		globalMetrics.Endpoints[endpoint]++
		globalMetrics.mu.Unlock()
	}
}

func GetMetrics() *Metrics {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	metrics := &Metrics{
		RequestCount:    globalMetrics.RequestCount,
		RequestDuration: globalMetrics.RequestDuration,
		ActiveRequests:  globalMetrics.ActiveRequests,
		ErrorCount:      globalMetrics.ErrorCount,
		StatusCodes:     make(map[string]int64),
		Endpoints:       make(map[string]int64),
		StartTime:       globalMetrics.StartTime,
		LastRequest:     globalMetrics.LastRequest,
	}

	for k, v := range globalMetrics.StatusCodes {
		metrics.StatusCodes[k] = v
	}
	for k, v := range globalMetrics.Endpoints {
		metrics.Endpoints[k] = v
	}

	return metrics
}

type SystemMetrics struct {
	Uptime         time.Duration `json:"uptime"`
	MemoryUsage    MemoryStats   `json:"memory"`
	GoroutineCount int           `json:"goroutine_count"`
	CPUCount       int           `json:"cpu_count"`
	GoVersion      string        `json:"go_version"`
}

type MemoryStats struct {
	Alloc        uint64 `json:"alloc_mb"`
	TotalAlloc   uint64 `json:"total_alloc_mb"`
	Sys          uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
	NextGC       uint64 `json:"next_gc_mb"`
	LastGC       string `json:"last_gc"`
	GCPauseTotal string `json:"gc_pause_total"`
}

func GetSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemMetrics{
		Uptime: time.Since(globalMetrics.StartTime),
		MemoryUsage: MemoryStats{
			Alloc:        bToMb(m.Alloc),
			TotalAlloc:   bToMb(m.TotalAlloc),
			Sys:          bToMb(m.Sys),
			NumGC:        m.NumGC,
			NextGC:       bToMb(m.NextGC),
			LastGC:       time.Unix(0, int64(m.LastGC)).Format(time.RFC3339),
			GCPauseTotal: time.Duration(m.PauseTotalNs).String(),
		},
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

// RegisterHealthCheck adds a named check. Checks run on every health, readiness
// and metrics request.
func RegisterHealthCheck(name string, checkFunc HealthCheckFunc) {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()

	globalHealthChecker.funcs[name] = checkFunc
	globalHealthChecker.checks[name] = HealthCheck{Name: name, Status: "unknown"}
}

// RegisterStats adds a named stats source shown by MetricsHandler.
func RegisterStats(name string, source StatsFunc) {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()

	globalHealthChecker.stats[name] = source
}

// Reset drops every registered check and stats source.
func Reset() {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()

	globalHealthChecker.funcs = make(map[string]HealthCheckFunc)
	globalHealthChecker.checks = make(map[string]HealthCheck)
	globalHealthChecker.stats = make(map[string]StatsFunc)
}

func RunHealthChecks(ctx context.Context) map[string]HealthCheck {
	globalHealthChecker.mu.RLock()
	funcs := make(map[string]HealthCheckFunc, len(globalHealthChecker.funcs))
	for name, fn := range globalHealthChecker.funcs {
		funcs[name] = fn
	}
	globalHealthChecker.mu.RUnlock()

	results := make(map[string]HealthCheck, len(funcs))
	for name, fn := range funcs {
		results[name] = runCheck(ctx, name, fn)
	}

	globalHealthChecker.mu.Lock()
	for name, check := range results {
		if _, ok := globalHealthChecker.funcs[name]; ok {
			globalHealthChecker.checks[name] = check
		}
	}
	globalHealthChecker.mu.Unlock()

	return results
}

func runCheck(ctx context.Context, name string, fn HealthCheckFunc) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	check := HealthCheck{Name: name, Status: "healthy", LastRun: time.Now()}
	if err := fn(ctx); err != nil {
		check.Status = "unhealthy"
		check.Message = err.Error()
	}
	return check
}

// LastHealthChecks returns the results of the most recent run without running anything.
func LastHealthChecks() map[string]HealthCheck {
	globalHealthChecker.mu.RLock()
	defer globalHealthChecker.mu.RUnlock()

	out := make(map[string]HealthCheck, len(globalHealthChecker.checks))
	for name, check := range globalHealthChecker.checks {
		out[name] = check
	}
	return out
}

func collectStats() map[string]interface{} {
	globalHealthChecker.mu.RLock()
	sources := make(map[string]StatsFunc, len(globalHealthChecker.stats))
	for name, fn := range globalHealthChecker.stats {
		sources[name] = fn
	}
	globalHealthChecker.mu.RUnlock()

	out := make(map[string]interface{}, len(sources))
	for name, fn := range sources {
		out[name] = fn()
	}
	return out
}

func healthy(checks map[string]HealthCheck) bool {
	for _, check := range checks {
		if check.Status != "healthy" {
			return false
		}
	}
	return true
}

func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics := GetMetrics()
		systemMetrics := GetSystemMetrics()

		response := gin.H{
			"application": metrics,
			"system":      systemMetrics,
			"components":  collectStats(),
			"checks":      LastHealthChecks(),
			"timestamp":   time.Now(),
		}

		c.JSON(http.StatusOK, response)
	}
}

func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := RunHealthChecks(c.Request.Context())

		overallStatus := "healthy"
		if !healthy(checks) {
			overallStatus = "unhealthy"
		}

		response := gin.H{
			"status":    overallStatus,
			"timestamp": time.Now(),
			"checks":    checks,
			"uptime":    time.Since(globalMetrics.StartTime).String(),
		}

		status := http.StatusOK
		if overallStatus != "healthy" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, response)
	}
}

func ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if healthy(RunHealthChecks(c.Request.Context())) {
			c.JSON(http.StatusOK, gin.H{
				"status":    "ready",
				"timestamp": time.Now(),
			})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not ready",
				"timestamp": time.Now(),
			})
		}
	}
}

func LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
			"uptime":    time.Since(globalMetrics.StartTime).String(),
		})
	}
}
