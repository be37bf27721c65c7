package ble

import (
	"context"
	"fmt"
	"log/slog"
)

// Outcome is what the pipeline decided to do with one advertisement.
type Outcome int

const (
	// OutcomeIgnore covers foreign, empty and malformed advertisements.
	OutcomeIgnore Outcome = iota
	// OutcomeDuplicate means the reading equals the last one for its device.
	OutcomeDuplicate
	// OutcomePublish means the reading is new and must be forwarded.
	OutcomePublish
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomePublish:
		return "publish"
	default:
		return "ignore"
	}
}

// Classify decodes ev and applies the dedup decision against cache.
// The returned Reading is only meaningful for OutcomePublish.
func Classify(ev Advertisement, cache *Cache) (Outcome, Reading) {
	return classify(ev, cache, nil)
}

// classify drops sensors missing from a non-nil allow set before they
// reach the cache.
func classify(ev Advertisement, cache *Cache, allow map[MAC]struct{}) (Outcome, Reading) {
	if ev.Kind != EventServiceData {
		return OutcomeIgnore, Reading{}
	}
	data, ok := ev.Lookup(EnvironmentalSensingUUID)
	if !ok {
		return OutcomeIgnore, Reading{}
	}
	r, err := DecodeReading(data)
	if err != nil {
		return OutcomeIgnore, Reading{}
	}
	if allow != nil {
		if _, ok := allow[r.MAC]; !ok {
			return OutcomeIgnore, Reading{}
		}
	}
	if !cache.Observe(r) {
		return OutcomeDuplicate, Reading{}
	}
	return OutcomePublish, r
}

// Publisher hands a message to the bus and waits until it has been accepted.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Recorder receives pipeline counters. See internal/metrics.
type Recorder interface {
	Event(outcome string)
	PublishError()
	Devices(n int)
}

// Forwarded describes a reading that was published.
type Forwarded struct {
	Reading Reading
	Topic   string
	Body    []byte
	Event   Advertisement
}

type PipelineOptions struct {
	TopicPrefix string
	Verbose     bool
	Logger      *slog.Logger
	Recorder    Recorder

	// Allow restricts forwarding to these sensors. Empty forwards all.
	Allow []MAC

	// OnForward runs after every successful publish.
	OnForward func(ctx context.Context, f Forwarded)
}

// Pipeline turns advertisements into deduplicated MQTT messages, one at a time.
type Pipeline struct {
	publisher Publisher
	cache     *Cache
	opts      PipelineOptions
	allow     map[MAC]struct{}
	logger    *slog.Logger
}

func NewPipeline(publisher Publisher, cache *Cache, opts PipelineOptions) *Pipeline {
	if cache == nil {
		cache = NewCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var allow map[MAC]struct{}
	if len(opts.Allow) > 0 {
		allow = make(map[MAC]struct{}, len(opts.Allow))
		for _, mac := range opts.Allow {
			allow[mac] = struct{}{}
		}
	}
	return &Pipeline{
		publisher: publisher,
		cache:     cache,
		opts:      opts,
		allow:     allow,
		logger:    logger,
	}
}

// Run consumes events in order until ctx is done, events is closed, or a
// publish fails.
func (p *Pipeline) Run(ctx context.Context, events <-chan Advertisement) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Handle processes a single advertisement. Only publish failures are returned.
func (p *Pipeline) Handle(ctx context.Context, ev Advertisement) error {
	outcome, r := classify(ev, p.cache, p.allow)
	if p.opts.Recorder != nil {
		p.opts.Recorder.Event(outcome.String())
		p.opts.Recorder.Devices(p.cache.Len())
	}
	if outcome != OutcomePublish {
		return nil
	}

	body, err := r.JSON()
	if err != nil {
		return err
	}
	topic := Topic(p.opts.TopicPrefix, r.MAC)

	if err := p.publisher.Publish(ctx, topic, body); err != nil {
		if p.opts.Recorder != nil {
			p.opts.Recorder.PublishError()
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	if p.opts.Verbose {
		p.logger.InfoContext(ctx, "ble: sensor reading published",
			"mac", r.MAC.String(),
			"payload", string(body),
			"addr", ev.Address,
			"rssi", ev.RSSI,
			"counter", r.Counter,
		)
	}

	if p.opts.OnForward != nil {
		p.opts.OnForward(ctx, Forwarded{Reading: r, Topic: topic, Body: body, Event: ev})
	}
	return nil
}

// Cache exposes the pipeline's reading cache for diagnostics.
func (p *Pipeline) Cache() *Cache {
	return p.cache
}
