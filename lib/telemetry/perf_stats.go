package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("panelwatch.perf_stats")

// InstrumentPerfStats records process level gauges every 30 seconds until
// ctx is done. Chrome runs as child processes, their resident memory is
// summed into browser_rss_mb.
func InstrumentPerfStats(ctx context.Context) {
	cpuGauge, _ := meter.Float64Gauge("cpu_usage")
	memoryGauge, _ := meter.Int64Gauge("allocated_mb")
	liveObjectsGauge, _ := meter.Int64Gauge("live_objects")
	goroutineGauge, _ := meter.Int64Gauge("goroutine_count")
	browserGauge, _ := meter.Int64Gauge("browser_rss_mb")

	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("failed to inspect own process", "err", err)
	}

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				cpuUsage, err := cpu.PercentWithContext(ctx, time.Second*5, false)
				if err == nil && len(cpuUsage) > 0 {
					cpuGauge.Record(ctx, cpuUsage[0])
				} else if err != nil {
					slog.Warn("failed to read cpu usage", "err", err)
				}

				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				liveObjectsGauge.Record(ctx, int64(memStats.Mallocs)-int64(memStats.Frees))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

				if self != nil {
					browserGauge.Record(ctx, childrenRSS(ctx, self)/1_000_000)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func childrenRSS(ctx context.Context, p *process.Process) int64 {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return 0
	}
	var total int64
	for _, child := range children {
		mem, err := child.MemoryInfoWithContext(ctx)
		if err == nil && mem != nil {
			total += int64(mem.RSS)
		}
		total += childrenRSS(ctx, child)
	}
	return total
}
