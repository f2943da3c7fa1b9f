package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until the backing store signals new work on a topic.
type Waiter interface {
	WaitForNotification(ctx context.Context, topic model.QueueTopic) error
}

// Notifier fans queue wake-ups out to blocked consumers.
type Notifier interface {
	Subscribe(topic model.QueueTopic) (func(), <-chan struct{})
	// Nudge wakes local subscribers without a round trip to the store.
	Nudge(topic model.QueueTopic)
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier runs one listener goroutine per subscribed topic.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.QueueTopic]map[chan struct{}]struct{}
	listeners map[model.QueueTopic]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[model.QueueTopic]map[chan struct{}]struct{}),
		listeners:  make(map[model.QueueTopic]context.CancelFunc),
	}, nil
}

// Subscribe registers a buffered wake-up channel for topic. Call the returned func to unsubscribe.
func (n *DefaultNotifier) Subscribe(topic model.QueueTopic) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[topic]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[topic] = cancel
		go n.listenLoop(ctx, topic)
	}

	ch := make(chan struct{}, 1)
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[chan struct{}]struct{})
	}
	n.subs[topic][ch] = struct{}{}

	var once sync.Once
	unsub := func() {
		once.Do(func() { n.unsubscribe(topic, ch) })
	}
	return unsub, ch
}

func (n *DefaultNotifier) unsubscribe(topic model.QueueTopic, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subscribers := n.subs[topic]
	if _, ok := subscribers[ch]; !ok {
		return
	}
	delete(subscribers, ch)
	drainAndClose(ch)
	if len(subscribers) == 0 {
		if cancel, ok := n.listeners[topic]; ok {
			cancel()
			delete(n.listeners, topic)
		}
		delete(n.subs, topic)
	}
}

// Nudge wakes every local subscriber of topic.
func (n *DefaultNotifier) Nudge(topic model.QueueTopic) {
	n.broadcast(topic)
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for topic, cancel := range n.listeners {
		cancel()
		delete(n.listeners, topic)
	}
	for topic, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, topic)
	}
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, topic model.QueueTopic) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, topic)
		cancel()

		// A timed-out wait still wakes consumers so they re-poll for expired leases.
		n.broadcast(topic)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(topic model.QueueTopic) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
