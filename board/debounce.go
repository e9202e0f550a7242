package board

import (
	"sort"
	"sync"
	"time"

	"github.com/CrowderSoup/kanban-board/database"
)

// DefaultDebounce is the window in which delete notifications are coalesced.
const DefaultDebounce = 100 * time.Millisecond

// Debouncer collects affected columns and flushes them once per window.
// The window starts with the first column added after a flush.
type Debouncer struct {
	window time.Duration
	flush  func([]database.Column)

	queue chan database.Column
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewDebouncer starts the batching goroutine. flush runs on that goroutine.
func NewDebouncer(window time.Duration, flush func([]database.Column)) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	d := &Debouncer{
		window: window,
		flush:  flush,
		queue:  make(chan database.Column, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Add marks a column for the next flush.
func (d *Debouncer) Add(col database.Column) {
	select {
	case d.queue <- col:
	case <-d.stop:
	}
}

// Close flushes anything pending and stops the goroutine.
func (d *Debouncer) Close() {
	d.once.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Debouncer) run() {
	defer close(d.done)

	pending := make(map[database.Column]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	emit := func() {
		if len(pending) == 0 {
			return
		}
		cols := make([]database.Column, 0, len(pending))
		for col := range pending {
			cols = append(cols, col)
		}
		sort.Slice(cols, func(i, j int) bool { return cols[i].Index() < cols[j].Index() })
		pending = make(map[database.Column]struct{})
		d.flush(cols)
	}

	for {
		select {
		case col := <-d.queue:
			pending[col] = struct{}{}
			if fire == nil {
				timer = time.NewTimer(d.window)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			emit()
		case <-d.stop:
			if timer != nil {
				timer.Stop()
			}
		drain:
			for {
				select {
				case col := <-d.queue:
					pending[col] = struct{}{}
				default:
					break drain
				}
			}
			emit()
			return
		}
	}
}
