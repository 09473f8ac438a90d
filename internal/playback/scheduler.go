package playback

import (
	"sync"
	"time"
)

// Task is a cancellable repeating job.
type Task interface {
	Stop()
}

// Scheduler starts repeating tasks for the auto-advance timer.
type Scheduler interface {
	Every(period time.Duration, fn func()) Task
}

// TickerScheduler runs each task on its own goroutine driven by a time.Ticker.
type TickerScheduler struct{}

func (TickerScheduler) Every(period time.Duration, fn func()) Task {
	t := &tickerTask{stopCh: make(chan struct{})}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return t
}

type tickerTask struct {
	once   sync.Once
	stopCh chan struct{}
}

func (t *tickerTask) Stop() { t.once.Do(func() { close(t.stopCh) }) }
