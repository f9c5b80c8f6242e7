package workers

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"os"
	goruntime "runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/process"
)

// HealthMonitoringWorker samples the relay process every metricInterval.
type HealthMonitoringWorker struct {
	log            *slog.Logger
	clock          clock.Clock
	sink           contract.EventSink
	metricInterval time.Duration
	pid            int32
}

func NewHealthMonitoringWorker(log *slog.Logger, clk clock.Clock, sink contract.EventSink, metricInterval time.Duration) *HealthMonitoringWorker {
	return &HealthMonitoringWorker{
		log:            log,
		clock:          clk,
		sink:           sink,
		metricInterval: metricInterval,
		pid:            int32(os.Getpid()),
	}
}

func (w *HealthMonitoringWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(w.pid)
	if err != nil {
		return err
	}
	ticker := w.clock.Ticker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			sample, err := w.Sample(proc)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			if err := w.sink.Consume(ctx, sample); err != nil {
				w.log.Debug("Process health sample lost", "err", err)
			}
		}
	}
}

func (w *HealthMonitoringWorker) Sample(proc *process.Process) (event.ProcessHealth, error) {
	cpu, err := proc.CPUPercent()
	if err != nil {
		return event.ProcessHealth{}, err
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return event.ProcessHealth{}, err
	}
	return event.ProcessHealth{
		CPUPercent: cpu,
		RSSBytes:   mem.RSS,
		Goroutines: goruntime.NumGoroutine(),
		At:         w.clock.Now().UTC(),
	}, nil
}
