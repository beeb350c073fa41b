package hive

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResourceSnapshot is a point-in-time reading of a tenant worker's resource
// usage.
type ResourceSnapshot struct {
	TenantID    string    `json:"tenant_id"`
	ProcessID   int       `json:"process_id"`
	MemoryBytes int64     `json:"memory_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	OpenHandles int       `json:"open_handles"`
	Connections int       `json:"connections"`
	SampledAt   time.Time `json:"sampled_at"`
}

// Quotas are static ceilings a worker must stay under.
type Quotas struct {
	MaxMemoryBytes int64
	MaxCPUPercent  float64
	MaxOpenHandles int
	MaxConnections int
}

// Violation is one exceeded quota, reported as data rather than an error.
type Violation struct {
	Kind    string  `json:"kind"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
	Message string  `json:"message"`
}

// CheckQuotas compares a snapshot against quotas and returns every violated
// constraint. Zero-valued quota fields are unenforced. Detection only: the
// monitor never terminates or throttles anything itself.
func CheckQuotas(snap ResourceSnapshot, quotas Quotas) []Violation {
	var out []Violation

	if quotas.MaxMemoryBytes > 0 && snap.MemoryBytes > quotas.MaxMemoryBytes {
		out = append(out, Violation{
			Kind:  "memory",
			Value: float64(snap.MemoryBytes),
			Limit: float64(quotas.MaxMemoryBytes),
			Message: fmt.Sprintf("memory usage %.1fMB > %.1fMB",
				float64(snap.MemoryBytes)/1024/1024, float64(quotas.MaxMemoryBytes)/1024/1024),
		})
	}
	if quotas.MaxCPUPercent > 0 && snap.CPUPercent > quotas.MaxCPUPercent {
		out = append(out, Violation{
			Kind:    "cpu",
			Value:   snap.CPUPercent,
			Limit:   quotas.MaxCPUPercent,
			Message: fmt.Sprintf("cpu usage %.1f%% > %.1f%%", snap.CPUPercent, quotas.MaxCPUPercent),
		})
	}
	if quotas.MaxOpenHandles > 0 && snap.OpenHandles > quotas.MaxOpenHandles {
		out = append(out, Violation{
			Kind:    "open_handles",
			Value:   float64(snap.OpenHandles),
			Limit:   float64(quotas.MaxOpenHandles),
			Message: fmt.Sprintf("open files %d > %d", snap.OpenHandles, quotas.MaxOpenHandles),
		})
	}
	if quotas.MaxConnections > 0 && snap.Connections > quotas.MaxConnections {
		out = append(out, Violation{
			Kind:    "connections",
			Value:   float64(snap.Connections),
			Limit:   float64(quotas.MaxConnections),
			Message: fmt.Sprintf("network connections %d > %d", snap.Connections, quotas.MaxConnections),
		})
	}

	return out
}

// ResourceMonitor samples running tenant workers via procfs. CPU percent is
// a delta between successive samples of the same pid, so the first sample
// for a pid reports 0.
type ResourceMonitor struct {
	mu   sync.Mutex
	prev map[int]cpuSample
}

type cpuSample struct {
	jiffies uint64
	at      time.Time
}

// NewResourceMonitor creates a ResourceMonitor.
func NewResourceMonitor() *ResourceMonitor {
	return &ResourceMonitor{prev: make(map[int]cpuSample)}
}

// Sample reads the worker's current resource usage. A pid that no longer
// exists yields ErrProcessGone.
func (m *ResourceMonitor) Sample(tenantID string, pid int) (ResourceSnapshot, error) {
	snap := ResourceSnapshot{
		TenantID:  tenantID,
		ProcessID: pid,
		SampledAt: time.Now(),
	}

	jiffies, rss, err := readProcStat(pid)
	if err != nil {
		m.mu.Lock()
		delete(m.prev, pid)
		m.mu.Unlock()
		return snap, fmt.Errorf("tenant %s pid %d: %w", tenantID, pid, ErrProcessGone)
	}
	snap.MemoryBytes = rss

	m.mu.Lock()
	if prev, ok := m.prev[pid]; ok {
		elapsed := snap.SampledAt.Sub(prev.at).Seconds()
		if elapsed > 0 && jiffies >= prev.jiffies {
			used := float64(jiffies-prev.jiffies) / float64(clockTicksPerSec)
			snap.CPUPercent = used / elapsed * 100
		}
	}
	m.prev[pid] = cpuSample{jiffies: jiffies, at: snap.SampledAt}
	m.mu.Unlock()

	snap.OpenHandles, snap.Connections = countHandles(pid)
	return snap, nil
}

// Forget drops per-pid CPU state, for workers that have been stopped.
func (m *ResourceMonitor) Forget(pid int) {
	m.mu.Lock()
	delete(m.prev, pid)
	m.mu.Unlock()
}

// clockTicksPerSec is the kernel's USER_HZ; 100 on every supported platform.
const clockTicksPerSec = 100

// readProcStat returns cumulative cpu jiffies (utime+stime) and resident
// memory bytes for a pid.
func readProcStat(pid int) (jiffies uint64, rssBytes int64, err error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, err
	}

	// The comm field is parenthesized and may contain spaces; fields are
	// counted from after the closing paren.
	line := string(data)
	end := strings.LastIndexByte(line, ')')
	if end < 0 {
		return 0, 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(line[end+1:])
	// After comm: field 0 is state; utime and stime are fields 11 and 12,
	// rss (pages) is field 21.
	if len(fields) < 22 {
		return 0, 0, fmt.Errorf("short stat for pid %d", pid)
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	rssPages, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return 0, 0, err
	}

	return utime + stime, rssPages * int64(os.Getpagesize()), nil
}

// countHandles counts the pid's open file descriptors and how many of them
// are sockets. Permission errors report zero rather than failing the sample.
func countHandles(pid int) (open, sockets int) {
	fdDir := fmt.Sprintf("/proc/%d/fd", pid)
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return 0, 0
	}

	for _, entry := range entries {
		open++
		target, err := os.Readlink(fdDir + "/" + entry.Name())
		if err == nil && strings.HasPrefix(target, "socket:") {
			sockets++
		}
	}
	return open, sockets
}
