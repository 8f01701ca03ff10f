package recap

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDebounce is how long delivery waits for more recaps to arrive.
	DefaultDebounce = 3 * time.Second
	// DefaultMaxPending bounds queued recaps per uid.
	DefaultMaxPending = 10
)

// OnDrainFunc delivers the drained recaps for one uid.
type OnDrainFunc func(uid string, texts []string)

// Queue coalesces bursts of memory webhooks per uid: several memories created
// in quick succession end up as one chat message instead of a volley.
type Queue struct {
	queues     map[string]*uidQueue
	debounce   time.Duration
	maxPending int
	onDrain    OnDrainFunc
	mu         sync.Mutex
	logger     *slog.Logger
}

type uidQueue struct {
	items []string
	timer *time.Timer
}

// NewQueue creates a recap queue. onDrain is called when the debounce timer
// fires with everything queued for the uid.
func NewQueue(debounce time.Duration, maxPending int, onDrain OnDrainFunc, logger *slog.Logger) *Queue {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		queues:     make(map[string]*uidQueue),
		debounce:   debounce,
		maxPending: maxPending,
		onDrain:    onDrain,
		logger:     logger.With("component", "recap_queue"),
	}
}

// Enqueue adds a rendered recap for uid and arms (or resets) the debounce
// timer. When the queue is full the oldest entry is dropped.
func (q *Queue) Enqueue(uid, text string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	uq, ok := q.queues[uid]
	if !ok {
		uq = &uidQueue{items: make([]string, 0, 2)}
		q.queues[uid] = uq
	}
	if len(uq.items) >= q.maxPending {
		uq.items = uq.items[1:]
		q.logger.Warn("recap queue full, dropped oldest", "uid", uid, "max_pending", q.maxPending)
	}
	uq.items = append(uq.items, text)

	if uq.timer != nil {
		uq.timer.Stop()
	}
	uq.timer = time.AfterFunc(q.debounce, func() {
		texts := q.Drain(uid)
		if len(texts) > 0 && q.onDrain != nil {
			q.onDrain(uid, texts)
		}
	})
}

// Drain returns and clears the pending recaps for uid.
func (q *Queue) Drain(uid string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	uq, ok := q.queues[uid]
	if !ok || len(uq.items) == 0 {
		return nil
	}
	if uq.timer != nil {
		uq.timer.Stop()
		uq.timer = nil
	}
	texts := make([]string, len(uq.items))
	copy(texts, uq.items)
	uq.items = uq.items[:0]
	return texts
}

// Combine merges several recaps into one message.
func Combine(texts []string) string {
	if len(texts) == 1 {
		return texts[0]
	}
	return strings.Join(texts, "\n\n—\n\n")
}
