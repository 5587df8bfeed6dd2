// Package poll follows task progress by pulling the progress endpoint on a
// fixed cadence.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-importer/internal/apiclient"
	"github.com/JakeFAU/catalog-importer/internal/importer"
	"github.com/JakeFAU/catalog-importer/internal/metrics"
)

const (
	progressPath = "/api/progress/{task_id}"

	// DefaultInterval is the pull cadence used when none is configured.
	DefaultInterval = 2 * time.Second
)

// Options tunes a Factory.
type Options struct {
	Interval time.Duration
	// Immediate pulls once as soon as the channel opens instead of waiting
	// for the first tick.
	Immediate bool
	// FailureLogEvery bounds how often swallowed pull failures are logged.
	FailureLogEvery time.Duration
}

// Factory opens poll channels.
type Factory struct {
	client *resty.Client
	opts   Options
	logger *zap.Logger
}

// NewFactory returns a poll Factory using a request/response client.
func NewFactory(client *resty.Client, opts Options, logger *zap.Logger) *Factory {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.FailureLogEvery <= 0 {
		opts.FailureLogEvery = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{client: client, opts: opts, logger: logger.Named("poll")}
}

// Open starts the ticker and returns immediately.
func (f *Factory) Open(ctx context.Context, taskID string, sink importer.Sink) (importer.Channel, error) {
	if taskID == "" {
		return nil, errors.New("poll: empty task id")
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		taskID:   taskID,
		client:   f.client,
		opts:     f.opts,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   f.logger.With(zap.String("task_id", taskID)),
		failures: rate.Sometimes{First: 1, Interval: f.opts.FailureLogEvery},
	}
	go ch.run(ctx, sink)
	return ch, nil
}

// Channel is one running poll loop for a task.
type Channel struct {
	taskID    string
	client    *resty.Client
	opts      Options
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
	failures  rate.Sometimes
}

// Kind implements importer.Channel.
func (c *Channel) Kind() importer.ChannelKind {
	return importer.ChannelPoll
}

// Close stops the ticker and waits for any in-flight pull to finish.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.logger.Debug("poll closed")
	})
}

// Done is closed once the loop has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) run(ctx context.Context, sink importer.Sink) {
	defer close(c.done)
	defer c.cancel()

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	if c.opts.Immediate && c.tick(ctx, sink) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.tick(ctx, sink) {
				return
			}
		}
	}
}

// tick pulls once and reports whether polling should stop.
func (c *Channel) tick(ctx context.Context, sink importer.Sink) bool {
	report, err := c.pull(ctx)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		metrics.ObservePollFailure()
		c.failures.Do(func() {
			c.logger.Warn("progress pull failed, retrying next tick",
				zap.Duration("interval", c.opts.Interval),
				zap.Error(err),
			)
		})
		return false
	}
	sink.OnReport(report)
	if report.Terminal() {
		c.logger.Debug("terminal report, poll done", zap.String("status", string(report.Status)))
		return true
	}
	return false
}

func (c *Channel) pull(ctx context.Context) (importer.Report, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetError(&apiclient.ErrorBody{}).
		SetPathParam("task_id", c.taskID).
		Get(progressPath)
	if err := apiclient.CheckResponse(resp, err); err != nil {
		return importer.Report{}, err
	}
	report, err := importer.DecodeReport(resp.Body())
	if err != nil {
		return importer.Report{}, fmt.Errorf("status %d: %w", resp.StatusCode(), err)
	}
	return report, nil
}
