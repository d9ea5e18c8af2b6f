package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/adred-codev/odin-pipeline/internal/metrics"
)

// SystemMonitor periodically samples process resource usage and exports it
// through the metrics gauges. One measurement loop serves the whole
// process; components read gauges instead of measuring themselves.
type SystemMonitor struct {
	proc   *process.Process
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSystemMonitor attaches to the current process. gopsutil failures are
// not fatal: the monitor still reports runtime stats (heap, goroutines).
func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &SystemMonitor{
		logger: logger.With().Str("component", "system_monitor").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.logger.Warn().Err(err).Msg("CPU sampling unavailable, reporting runtime stats only")
	} else {
		m.proc = proc
	}

	return m
}

// Start begins sampling at the given interval until Stop.
func (m *SystemMonitor) Start(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.ctx.Done():
				return
			}
		}
	}()

	m.logger.Info().Dur("interval", interval).Msg("System monitor started")
}

// Stop halts sampling and waits for the loop to exit.
func (m *SystemMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *SystemMonitor) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.SetMemoryUsage(mem.Alloc)

	goroutines := runtime.NumGoroutine()
	metrics.SetGoroutines(goroutines)

	var cpuPercent float64
	if m.proc != nil {
		if pct, err := m.proc.CPUPercent(); err == nil {
			cpuPercent = pct
			metrics.SetCPUUsage(pct)
		} else {
			m.logger.Debug().Err(err).Msg("CPU sample failed")
		}
	}

	m.logger.Debug().
		Uint64("heap_bytes", mem.Alloc).
		Int("goroutines", goroutines).
		Float64("cpu_percent", cpuPercent).
		Msg("System sample")
}
