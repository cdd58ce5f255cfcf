// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     health
// Description: Health check registry with aggregated reporting
// Author:      Mike Stoffels with Claude
// Created:     2026-06-28
// License:     MIT
// ============================================================================

package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

var statusRank = map[Status]int{
	StatusHealthy:   0,
	StatusUnknown:   1,
	StatusDegraded:  2,
	StatusUnhealthy: 3,
}

// worse returns the more severe of two statuses.
func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker is a single named health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewChecker creates a named checker from a function.
func NewChecker(name string, fn func(ctx context.Context) CheckResult) Checker {
	return &funcChecker{name: name, fn: fn}
}

func (c *funcChecker) Name() string { return c.name }

func (c *funcChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// Registry holds the health probes of one process and produces aggregated
// reports. Probes run sequentially in registration order, so the /health
// payload keeps a stable layout between calls.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]Checker
	service string
	version string
	startAt time.Time
}

// NewRegistry creates a registry for the given service name and version.
func NewRegistry(service, version string) *Registry {
	return &Registry{
		byName:  make(map[string]Checker),
		service: service,
		version: version,
		startAt: time.Now(),
	}
}

// Register adds a checker. Re-registering a name replaces the checker and
// keeps its report position.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := checker.Name()
	if _, ok := r.byName[name]; !ok {
		r.order = append(r.order, name)
	}
	r.byName[name] = checker
}

// RegisterFunc adds a check function under the given name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context) CheckResult) {
	r.Register(NewChecker(name, fn))
}

// Unregister removes a checker by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Check runs all probes and aggregates the worst status into the report.
func (r *Registry) Check(ctx context.Context) *Report {
	// Snapshot under the lock so a slow probe never blocks registration.
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.order))
	for _, name := range r.order {
		checkers = append(checkers, r.byName[name])
	}
	service, version, startAt := r.service, r.version, r.startAt
	r.mu.RUnlock()

	report := &Report{
		Service:   service,
		Version:   version,
		Status:    StatusHealthy,
		Uptime:    time.Since(startAt),
		Timestamp: time.Now(),
		Checks:    make([]CheckResult, 0, len(checkers)),
	}

	for _, checker := range checkers {
		start := time.Now()
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		result.Timestamp = time.Now()
		if result.Name == "" {
			result.Name = checker.Name()
		}
		report.Checks = append(report.Checks, result)
		report.Status = worse(report.Status, result.Status)
	}
	return report
}

// CheckWithTimeout runs all probes with a deadline.
func (r *Registry) CheckWithTimeout(timeout time.Duration) *Report {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Check(ctx)
}

// Report represents the overall health of one process
type Report struct {
	Service   string        `json:"service"`
	Version   string        `json:"version"`
	Status    Status        `json:"status"`
	Uptime    time.Duration `json:"uptime"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// DiskSpace probes the volume holding path: degraded below minFree bytes,
// unhealthy when the path cannot be statted.
func DiskSpace(name, path string, minFree uint64) Checker {
	return NewChecker(name, func(ctx context.Context) CheckResult {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusUnhealthy,
				Message: err.Error(),
				Details: map[string]interface{}{"path": path},
			}
		}
		result := CheckResult{
			Name:   name,
			Status: StatusHealthy,
			Details: map[string]interface{}{
				"path":         path,
				"free_bytes":   usage.Free,
				"used_percent": usage.UsedPercent,
			},
		}
		if usage.Free < minFree {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("%d MiB free, want at least %d MiB", usage.Free>>20, minFree>>20)
		}
		return result
	})
}
