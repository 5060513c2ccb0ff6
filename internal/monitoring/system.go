package monitoring

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMonitor periodically logs a resource snapshot (CPU, RSS,
// goroutines) so operators can correlate gateway behavior with load.
type SystemMonitor struct {
	logger   zerolog.Logger
	interval time.Duration
	proc     *process.Process
}

// NewSystemMonitor builds a monitor. A non-positive interval defaults to
// 30 seconds.
func NewSystemMonitor(logger zerolog.Logger, interval time.Duration) *SystemMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("process handle unavailable, rss not reported")
		proc = nil
	}
	return &SystemMonitor{logger: logger, interval: interval, proc: proc}
}

// Start runs the sampling loop until ctx is cancelled.
func (m *SystemMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *SystemMonitor) sample() {
	event := m.logger.Debug().Int("goroutines", runtime.NumGoroutine())

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		event = event.Float64("cpu_percent", percents[0])
	}
	if m.proc != nil {
		if memInfo, err := m.proc.MemoryInfo(); err == nil {
			event = event.Float64("rss_mb", float64(memInfo.RSS)/1024/1024)
		}
	}

	event.Msg("resource snapshot")
}
