package oracle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/accordsai/courtlane/pkg/canonhash"
	"github.com/accordsai/courtlane/pkg/fhe"
	"github.com/accordsai/courtlane/pkg/signature"
	"github.com/accordsai/courtlane/services/custody/internal/model"
)

var ErrUnknownRequest = errors.New("oracle: unknown request")

// Local decrypts in-process on a worker goroutine and delivers signed
// results to the attached Receiver.
type Local struct {
	identity model.Identity
	dec      fhe.Decryptor
	signer   *signature.Signer
	now      func() time.Time

	mu       sync.Mutex
	next     uint64
	reserved map[uint64][]fhe.Handle
	recv     Receiver

	queue chan uint64
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewLocal hands out request ids starting at firstID (1 when zero).
func NewLocal(identity model.Identity, dec fhe.Decryptor, signer *signature.Signer, firstID uint64) *Local {
	if firstID == 0 {
		firstID = 1
	}
	return &Local{
		identity: identity,
		dec:      dec,
		signer:   signer,
		now:      time.Now,
		next:     firstID,
		reserved: map[uint64][]fhe.Handle{},
		queue:    make(chan uint64, 256),
		done:     make(chan struct{}),
	}
}

func (l *Local) Attach(r Receiver) {
	l.mu.Lock()
	l.recv = r
	l.mu.Unlock()
}

func (l *Local) Start() {
	l.wg.Add(1)
	go l.loop()
}

// Stop waits for the request being decrypted, if any. Queued work is dropped.
func (l *Local) Stop() {
	close(l.done)
	l.wg.Wait()
}

func (l *Local) Request(_ context.Context, handles []fhe.Handle) (uint64, error) {
	if len(handles) == 0 {
		return 0, fmt.Errorf("oracle: no handles")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.reserved[id] = append([]fhe.Handle(nil), handles...)
	return id, nil
}

func (l *Local) Dispatch(ctx context.Context, requestID uint64) error {
	l.mu.Lock()
	_, ok := l.reserved[requestID]
	l.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	select {
	case l.queue <- requestID:
		return nil
	default:
	}
	// queue full: hand off without blocking the committing call
	go func() {
		select {
		case l.queue <- requestID:
		case <-l.done:
		}
	}()
	return nil
}

func (l *Local) Discard(_ context.Context, requestID uint64) error {
	l.mu.Lock()
	delete(l.reserved, requestID)
	l.mu.Unlock()
	return nil
}

func (l *Local) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case id := <-l.queue:
			l.process(id)
		}
	}
}

func (l *Local) process(id uint64) {
	l.mu.Lock()
	handles, ok := l.reserved[id]
	delete(l.reserved, id)
	recv := l.recv
	l.mu.Unlock()
	if !ok || recv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cleartexts := make([]uint64, 0, len(handles))
	var failure string
	for _, h := range handles {
		v, err := l.dec.Decrypt(ctx, h)
		if err != nil {
			failure = err.Error()
			break
		}
		cleartexts = append(cleartexts, v)
	}

	if failure != "" {
		env, err := l.signer.Sign(canonhash.DecryptionPayload(id, nil, failure), l.now())
		if err != nil {
			log.Printf("[courtlane] oracle sign failure for request %d: %v", id, err)
			return
		}
		if err := recv.DecryptionFailure(ctx, l.identity, id, failure, env); err != nil {
			log.Printf("[courtlane] oracle failure delivery for request %d rejected: %v", id, err)
		}
		return
	}
	env, err := l.signer.Sign(canonhash.DecryptionPayload(id, cleartexts, ""), l.now())
	if err != nil {
		log.Printf("[courtlane] oracle sign result for request %d: %v", id, err)
		return
	}
	if err := recv.DecryptionCallback(ctx, l.identity, id, cleartexts, env); err != nil {
		log.Printf("[courtlane] oracle callback for request %d rejected: %v", id, err)
	}
}
