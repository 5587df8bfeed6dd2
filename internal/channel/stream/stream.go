// Package stream follows task progress over a server-sent event stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"
	sse "github.com/tmaxmax/go-sse"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/importer"
)

const (
	streamPath   = "/api/stream/{task_id}"
	maxEventSize = 1 << 20
)

// ErrClosedBeforeTerminal reports a stream the server ended before the task
// reached a terminal status.
var ErrClosedBeforeTerminal = errors.New("stream closed before a terminal report")

// Factory opens stream channels. The client must not carry an overall request
// timeout; see apiclient.NewStreaming.
type Factory struct {
	client *resty.Client
	logger *zap.Logger
}

// NewFactory returns a stream Factory.
func NewFactory(client *resty.Client, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{client: client, logger: logger.Named("stream")}
}

// Open starts connecting in the background and returns immediately.
// Connection failures arrive through sink.OnTransportError.
func (f *Factory) Open(ctx context.Context, taskID string, sink importer.Sink) (importer.Channel, error) {
	if taskID == "" {
		return nil, errors.New("stream: empty task id")
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		taskID: taskID,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With(zap.String("task_id", taskID)),
	}
	go ch.run(ctx, f.client, sink)
	return ch, nil
}

// Channel is one open event stream for a task.
type Channel struct {
	taskID    string
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// Kind implements importer.Channel.
func (c *Channel) Kind() importer.ChannelKind {
	return importer.ChannelStream
}

// Close drops the connection and waits for the reader to exit.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.logger.Debug("stream closed")
	})
}

// Done is closed once the channel stops delivering, whether it was closed,
// failed, or saw a terminal report.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) run(ctx context.Context, client *resty.Client, sink importer.Sink) {
	defer close(c.done)
	defer c.cancel()

	resp, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		SetPathParam("task_id", c.taskID).
		Get(streamPath)
	if err != nil {
		c.fail(ctx, sink, fmt.Errorf("connect: %w", err))
		return
	}
	body := resp.RawBody()
	defer func() {
		if cerr := body.Close(); cerr != nil {
			c.logger.Debug("close stream body", zap.Error(cerr))
		}
	}()
	if resp.IsError() {
		c.fail(ctx, sink, fmt.Errorf("unexpected status %d", resp.StatusCode()))
		return
	}
	c.logger.Debug("stream connected")

	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			c.fail(ctx, sink, fmt.Errorf("read event: %w", err))
			return
		}
		if ev.Data == "" {
			continue
		}
		if ev.Type != "" && ev.Type != "message" {
			c.logger.Debug("skipping named event", zap.String("event", ev.Type))
			continue
		}
		report, err := importer.DecodeReport([]byte(ev.Data))
		if err != nil {
			c.fail(ctx, sink, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		sink.OnReport(report)
		if report.Terminal() {
			c.logger.Debug("terminal report, stream done", zap.String("status", string(report.Status)))
			return
		}
	}
	c.fail(ctx, sink, ErrClosedBeforeTerminal)
}

// fail reports err unless the channel was closed, in which case the error is
// a consequence of closing and nobody is listening.
func (c *Channel) fail(ctx context.Context, sink importer.Sink, err error) {
	if ctx.Err() != nil {
		return
	}
	c.logger.Info("stream failed", zap.Error(err))
	sink.OnTransportError(&importer.TransportError{
		Channel: importer.ChannelStream,
		TaskID:  c.taskID,
		Err:     err,
	})
}
