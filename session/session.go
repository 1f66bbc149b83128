package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sdingwan/combined-chat/event"
	"github.com/sdingwan/combined-chat/telemetry"
)

// ErrNoValidChannels indicates every requested channel failed resolution;
// per-channel error events were already forwarded.
var ErrNoValidChannels = errors.New("no valid channels")

// Adapter is one platform connection for one channel. Resolve validates the
// channel upstream; Run streams events until the context is cancelled or
// the connection fails, without retrying. Expected failure classes come
// back as errors and are converted to client events here, never lost.
type Adapter interface {
	Platform() event.Platform
	Channel() string
	Resolve(ctx context.Context) error
	Run(ctx context.Context, emit func(event.Event)) error
}

// Factory builds the adapter for a requested channel reference.
type Factory func(ref ChannelRef) (Adapter, error)

// Options tune one session's buffering and per-channel resolution deadline.
type Options struct {
	QueueSize      int
	ResolveTimeout time.Duration
}

func (o Options) queueSize() int {
	if o.QueueSize > 0 {
		return o.QueueSize
	}
	return 256
}

func (o Options) resolveTimeout() time.Duration {
	if o.ResolveTimeout > 0 {
		return o.ResolveTimeout
	}
	return 15 * time.Second
}

// Session owns the fan-in: one goroutine per adapter producing into a
// shared bounded queue, one forwarder consuming it.
type Session struct {
	factory Factory
	tracker *Tracker
	opts    Options
}

func New(factory Factory, tracker *Tracker, opts Options) *Session {
	return &Session{factory: factory, tracker: tracker, opts: opts}
}

// Run resolves every requested channel, spawns one adapter task per valid
// one, and forwards queued events through write until all adapters finish
// or the context is cancelled. Within one adapter, delivery order is
// emission order; across adapters it is arrival order.
//
// Failed resolutions produce one error event and one terminal status each.
// If nothing resolves, Run returns ErrNoValidChannels after those events
// are flushed. A write error cancels the whole session.
func (s *Session) Run(ctx context.Context, refs []ChannelRef, write func(event.Event) error) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "session"))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.tracker.addSession()
	defer s.tracker.removeSession()

	queue := make(chan event.Event, s.opts.queueSize())
	emit := func(ev event.Event) {
		select {
		case queue <- ev:
			telemetry.CountEvent(string(ev.Platform), string(ev.Kind))
			if telemetry.QueueDepth != nil {
				telemetry.QueueDepth.Set(float64(len(queue)))
			}
		case <-ctx.Done():
		}
	}

	var valid []Adapter
	for _, ref := range refs {
		adapter, err := s.buildAndResolve(ctx, ref)
		if err != nil {
			log.Warn("channel resolution failed",
				slog.String("platform", string(ref.Platform)),
				slog.String("channel", ref.Channel),
				slog.Any("err", err))
			emit(event.Error(ref.Platform, ref.Channel, err.Error()))
			emit(event.Status(ref.Platform, ref.Channel, fmt.Sprintf("Stopped listening to %s", ref.Channel)))
			continue
		}
		valid = append(valid, adapter)
	}
	if telemetry.SubscribeTotal != nil {
		telemetry.SubscribeTotal.Inc()
	}

	var wg sync.WaitGroup
	for _, adapter := range valid {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			s.runAdapter(ctx, a, emit, log)
		}(adapter)
	}

	// When every adapter has returned, cancel so the forwarder drains and
	// exits. With zero valid adapters this fires immediately, after the
	// resolution-failure events above are already queued.
	go func() {
		wg.Wait()
		cancel()
	}()

	s.forward(ctx, queue, write, log)
	// The forwarder also returns on a write error; cancel so the adapters
	// stop instead of blocking on a dead client.
	cancel()
	wg.Wait()
	if len(valid) == 0 {
		return ErrNoValidChannels
	}
	return nil
}

func (s *Session) buildAndResolve(ctx context.Context, ref ChannelRef) (Adapter, error) {
	adapter, err := s.factory(ref)
	if err != nil {
		return nil, err
	}
	resolveCtx, cancel := context.WithTimeout(ctx, s.opts.resolveTimeout())
	defer cancel()
	if err := adapter.Resolve(resolveCtx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// runAdapter wraps one adapter task: live-set registration, panic
// containment, and the guaranteed terminal status. A task never disappears
// silently.
func (s *Session) runAdapter(ctx context.Context, a Adapter, emit func(event.Event), log *slog.Logger) {
	id := s.tracker.addAdapter(AdapterInfo{Platform: a.Platform(), Channel: a.Channel()})
	defer s.tracker.removeAdapter(id)

	adapterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("adapter panic: %v", r)
			}
		}()
		return a.Run(adapterCtx, emit)
	}()

	if err != nil && ctx.Err() == nil {
		telemetry.CountAdapterFailure(string(a.Platform()))
		log.Warn("adapter failed",
			slog.String("platform", string(a.Platform())),
			slog.String("channel", a.Channel()),
			slog.Any("err", err))
		emit(event.Error(a.Platform(), a.Channel(), err.Error()))
	}
	emit(event.Status(a.Platform(), a.Channel(), fmt.Sprintf("Disconnected from %s chat for %s", a.Platform().Display(), a.Channel())))
}

// forward is the single queue consumer. On cancellation it drains whatever
// is already buffered once, without blocking, then returns.
func (s *Session) forward(ctx context.Context, queue chan event.Event, write func(event.Event) error, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-queue:
					if err := write(ev); err != nil {
						return
					}
				default:
					return
				}
			}
		case ev := <-queue:
			if telemetry.QueueDepth != nil {
				telemetry.QueueDepth.Set(float64(len(queue)))
			}
			if err := write(ev); err != nil {
				log.Debug("client write failed, closing session", slog.Any("err", err))
				return
			}
		}
	}
}
