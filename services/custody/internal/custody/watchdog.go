package custody

import (
	"context"
	"log"
	"sync"
	"time"
)

// Watchdog periodically fails decryption requests the oracle never answered.
type Watchdog struct {
	engine   *Engine
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewWatchdog(engine *Engine, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watchdog{engine: engine, interval: interval, done: make(chan struct{})}
}

func (w *Watchdog) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watchdog) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Watchdog) loop() {
	defer w.wg.Done()
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			w.sweep()
		}
	}
}

func (w *Watchdog) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := w.engine.FailStaleDecryptions(ctx)
	if err != nil {
		log.Printf("[courtlane] decryption watchdog failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[courtlane] decryption watchdog failed %d stale request(s)", n)
	}
}
