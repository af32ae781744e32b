package transport

import (
	"context"
	"sync"
	"time"
)

// FrameObserver receives frame-level events from an instrumented
// transport. observability.Metrics provides the Prometheus implementation.
type FrameObserver interface {
	FrameSent(bytes int, took time.Duration, err error)
	FrameReceived(bytes int)
	StreamEnded(reason TerminationKind)
}

// ObservabilityMiddleware reports every frame crossing the wrapped
// transport to observer.
func ObservabilityMiddleware(observer FrameObserver) Middleware {
	return func(next Transport) Transport {
		if observer == nil {
			return next
		}
		return &observedTransport{next: next, observer: observer, done: make(chan struct{})}
	}
}

type observedTransport struct {
	next     Transport
	observer FrameObserver

	mu        sync.Mutex
	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (o *observedTransport) Open(ctx context.Context) error {
	return o.next.Open(ctx)
}

func (o *observedTransport) Send(ctx context.Context, frame []byte) error {
	start := time.Now()
	err := o.next.Send(ctx, frame)
	o.observer.FrameSent(len(frame), time.Since(start), err)
	return err
}

// Frames relays the inner sequence, observing each frame. The relay stops
// when the inner sequence closes or the transport is closed.
func (o *observedTransport) Frames() (<-chan Frame, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return o.next.Frames()
	default:
	}
	if o.out == nil {
		in, err := o.next.Frames()
		if err != nil {
			return nil, err
		}
		o.out = make(chan Frame, frameBuffer)
		go o.relay(in, o.out)
	}
	return o.out, nil
}

func (o *observedTransport) relay(in <-chan Frame, out chan<- Frame) {
	defer close(out)
	for f := range in {
		if f.Terminal() {
			o.observer.StreamEnded(f.End.Kind)
		} else {
			o.observer.FrameReceived(len(f.Data))
		}
		select {
		case out <- f:
		case <-o.done:
			return
		}
	}
}

func (o *observedTransport) Close() error {
	o.closeOnce.Do(func() { close(o.done) })
	return o.next.Close()
}

// Unwrap returns the wrapped transport.
func (o *observedTransport) Unwrap() Transport {
	return o.next
}
