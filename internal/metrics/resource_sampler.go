package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceSampler periodically samples CPU, memory and thread usage for
// running service processes and exposes them as Prometheus gauges.
type ResourceSampler struct {
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.Mutex
	seen map[string]struct{}

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewResourceSampler creates a sampler. A zero interval defaults to 5s.
func NewResourceSampler(enabled bool, interval time.Duration) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceSampler{
		enabled:  enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		seen:     make(map[string]struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "service",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the service process.",
			}, []string{"name"},
		),
		memoryRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "service",
				Name:      "memory_rss_bytes",
				Help:      "Resident set size of the service process in bytes.",
			}, []string{"name"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "service",
				Name:      "num_threads",
				Help:      "Thread count of the service process.",
			}, []string{"name"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "warden",
				Subsystem: "service",
				Name:      "num_fds",
				Help:      "Open file descriptors of the service process (Unix only).",
			}, []string{"name"},
		),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *ResourceSampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryRSS, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. The pids callback supplies the current
// name-to-PID map of running services on every tick.
func (s *ResourceSampler) Start(ctx context.Context, pids func() map[string]int) error {
	if !s.enabled {
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(pids())
			}
		}
	}()
	return nil
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (s *ResourceSampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *ResourceSampler) collect(pids map[string]int) {
	live := make(map[string]struct{}, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			slog.Debug("resource sample skipped", "service", name, "pid", pid, "error", err)
			continue
		}
		cpu, err := proc.CPUPercent()
		if err != nil {
			cpu = 0
		}
		mem, err := proc.MemoryInfo()
		if err != nil {
			slog.Debug("memory info unavailable", "service", name, "pid", pid, "error", err)
			continue
		}
		threads, err := proc.NumThreads()
		if err != nil {
			threads = 0
		}

		s.cpuPercent.WithLabelValues(name).Set(cpu)
		s.memoryRSS.WithLabelValues(name).Set(float64(mem.RSS))
		s.numThreads.WithLabelValues(name).Set(float64(threads))
		if runtime.GOOS != "windows" {
			if fds, err := proc.NumFDs(); err == nil {
				s.numFDs.WithLabelValues(name).Set(float64(fds))
			}
		}
		live[name] = struct{}{}
	}

	// Drop series for services that are no longer running.
	s.mu.Lock()
	for name := range s.seen {
		if _, ok := live[name]; !ok {
			s.cpuPercent.DeleteLabelValues(name)
			s.memoryRSS.DeleteLabelValues(name)
			s.numThreads.DeleteLabelValues(name)
			s.numFDs.DeleteLabelValues(name)
		}
	}
	s.seen = live
	s.mu.Unlock()
}
