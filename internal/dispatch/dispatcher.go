// Package dispatch runs the per-message pipeline: detect a number, look it up,
// extract a name and send exactly one reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callerbot/internal/detect"
	"callerbot/internal/domain"
	"callerbot/internal/extract"
	"callerbot/internal/metrics"

	"github.com/google/uuid"
)

const defaultConcurrency = 10

// Dispatcher consumes inbound messages and replies on the originating channel.
type Dispatcher struct {
	lookup         domain.LookupClient
	bus            domain.MessageBus
	recorder       domain.DeliveryRecorder
	region         string
	installationID string
	concurrency    int
	logger         *slog.Logger
}

// Config holds the dispatcher's collaborators. Region and InstallationID are
// process-wide settings and are never modified after construction.
type Config struct {
	Lookup         domain.LookupClient
	Bus            domain.MessageBus
	Recorder       domain.DeliveryRecorder // optional
	Region         string
	InstallationID string
	Concurrency    int // max pipelines in flight (default 10)
	Logger         *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		lookup:         cfg.Lookup,
		bus:            cfg.Bus,
		recorder:       cfg.Recorder,
		region:         cfg.Region,
		installationID: cfg.InstallationID,
		concurrency:    cfg.Concurrency,
		logger:         cfg.Logger,
	}
}

// Run consumes the bus until ctx is done or the bus closes. Each message runs
// in its own goroutine, so a slow lookup never holds up later messages.
// Pipelines already started are not cancelled with ctx: Run waits for them
// to deliver their replies before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	var wg sync.WaitGroup
	defer d.drain(&wg)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()
	pipelineCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				d.logger.Warn("message dropped at shutdown",
					"channel", msg.Channel,
					"chat_id", msg.ChatID,
					"message_id", msg.MessageID,
				)
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				d.Process(pipelineCtx, m)
			}(msg)
		}
	}
}

func (d *Dispatcher) drain(wg *sync.WaitGroup) {
	d.logger.Info("waiting for in-flight replies")
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Process runs one message through the pipeline and delivers its reply.
// Nothing escapes: panics and delivery errors end as log lines.
func (d *Dispatcher) Process(ctx context.Context, msg domain.InboundMessage) {
	traceID := uuid.NewString()
	logger := d.logger.With("trace_id", traceID, "channel", msg.Channel, "chat_id", msg.ChatID)
	start := time.Now()

	metrics.MessagesTotal.Inc()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery panic", "panic", r)
		}
	}()

	logger.Info("message received",
		"from", msg.SenderName,
		"handle", msg.SenderHandle,
		"sender_id", msg.SenderID,
		"message", msg.Content,
	)

	reply := d.compose(ctx, msg, logger)
	d.deliver(ctx, msg, reply, logger)

	logger.Info("response time", "ms", time.Since(start).Milliseconds())
}

// compose is handle with a guaranteed reply: a panic maps to the error template.
func (d *Dispatcher) compose(ctx context.Context, msg domain.InboundMessage, logger *slog.Logger) (reply domain.OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panic", "panic", r)
			reply = threaded(msg, ReplyError)
		}
	}()
	return d.handle(ctx, msg, logger)
}

// Handle composes the reply for msg without sending it.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundMessage {
	return d.handle(ctx, msg, d.logger)
}

func (d *Dispatcher) handle(ctx context.Context, msg domain.InboundMessage, logger *slog.Logger) domain.OutboundMessage {
	if body, ok := commandReplies[msg.Command]; ok {
		logger.Info("command invoked", "command", msg.Command, "chat_id", msg.ChatID)
		metrics.Replies(metrics.OutcomeCommand).Inc()
		return commandReply(msg, body)
	}

	if !detect.ContainsNumber(msg.Content) {
		logger.Info("no phone number detected", "message", msg.Content)
		metrics.Replies(metrics.OutcomeNoMatch).Inc()
		return threaded(msg, ReplyNoNumber)
	}

	q := domain.LookupQuery{
		RawNumber:      detect.Find(msg.Content),
		Region:         d.region,
		InstallationID: d.installationID,
	}

	metrics.LookupsTotal.Inc()
	started := time.Now()
	res := d.safeLookup(ctx, q)
	metrics.LookupLatency.Observe(time.Since(started).Seconds())

	if res.Failed() {
		logger.Error("lookup failed", "message", msg.Content, "err", res.Err)
		metrics.Replies(metrics.OutcomeError).Inc()
		return threaded(msg, ReplyError)
	}

	name, ok := extract.Name(res.Markup)
	logger.Info("lookup complete", "message", msg.Content, "name", name)
	if !ok {
		metrics.Replies(metrics.OutcomeNoInfo).Inc()
		return threaded(msg, ReplyNoInfo)
	}
	metrics.Replies(metrics.OutcomeName).Inc()
	return nameReply(msg, name)
}

// safeLookup turns a misbehaving client into a Failure.
func (d *Dispatcher) safeLookup(ctx context.Context, q domain.LookupQuery) (res domain.LookupResult) {
	defer func() {
		if r := recover(); r != nil {
			res = domain.LookupFailed(fmt.Errorf("lookup panic: %v", r))
		}
	}()
	return d.lookup.Lookup(ctx, q)
}

// deliver sends reply and handles a delivery failure:
// blocked is logged only, a platform rejection gets one fallback reply,
// transport and unknown errors are logged and dropped.
func (d *Dispatcher) deliver(ctx context.Context, msg domain.InboundMessage, reply domain.OutboundMessage, logger *slog.Logger) {
	err := d.bus.SendOutbound(ctx, reply)
	if err == nil {
		return
	}

	kind := domain.DeliveryUnknown
	var de *domain.DeliveryError
	if errors.As(err, &de) {
		kind = de.Kind
	}
	metrics.DeliveryFailures(string(kind)).Inc()
	d.record(ctx, msg, kind, err, logger)

	switch kind {
	case domain.DeliveryBlocked:
		logger.Info("bot was blocked by the user", "err", err)
	case domain.DeliveryRejected:
		logger.Error("error in request", "err", err)
		fallback := domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: ReplyFallback,
			Format:  domain.FormatText,
		}
		if ferr := d.bus.SendOutbound(ctx, fallback); ferr != nil {
			logger.Error("fallback reply failed", "err", ferr)
		}
	case domain.DeliveryTransport:
		logger.Error("could not contact platform", "err", err)
	default:
		logger.Error("unknown delivery error", "err", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, msg domain.InboundMessage, kind domain.DeliveryKind, err error, logger *slog.Logger) {
	if d.recorder == nil {
		return
	}
	f := domain.DeliveryFailure{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Kind:    string(kind),
		Detail:  err.Error(),
	}
	if rerr := d.recorder.RecordDeliveryFailure(ctx, f); rerr != nil {
		logger.Warn("cannot record delivery failure", "err", rerr)
	}
}
