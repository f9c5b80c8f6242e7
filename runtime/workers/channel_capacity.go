package workers

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"
)

type NamedChannel struct {
	Name    string
	Channel any
}

// ChannelCapacityWorker periodically reports the length and capacity of the relay queues.
// Reading len(channel) and cap(channel) is non-blocking, so this won't interfere
// with the workers draining them.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	clock          clock.Clock
	channels       []NamedChannel
	sink           contract.EventSink
	metricInterval time.Duration
}

func NewChannelCapacityWorker(log *slog.Logger, clk clock.Clock,
	channels []NamedChannel, sink contract.EventSink,
	metricInterval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:            log,
		clock:          clk,
		channels:       channels,
		sink:           sink,
		metricInterval: metricInterval,
	}
}

func (w *ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping channel capacity sampling")
			return nil
		case <-ticker.C:
			for _, depth := range w.Sample() {
				if depth.Capacity > 0 && depth.Length == depth.Capacity {
					w.log.Warn("Queue is full", "queue", depth.Name, "capacity", depth.Capacity)
				}
				if err := w.sink.Consume(ctx, depth); err != nil {
					w.log.Debug("Queue depth sample lost", "queue", depth.Name, "err", err)
				}
			}
		}
	}
}

// Sample reads every channel once. Values that are not channels are skipped.
func (w *ChannelCapacityWorker) Sample() []event.QueueDepth {
	now := w.clock.Now().UTC()
	samples := make([]event.QueueDepth, 0, len(w.channels))
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		samples = append(samples, event.QueueDepth{
			Name:     nc.Name,
			Capacity: v.Cap(),
			Length:   v.Len(),
			At:       now,
		})
	}
	return samples
}
