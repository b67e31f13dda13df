package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

type failingSink struct{ n int }

func (f *failingSink) Publish(context.Context, Event) error {
	f.n++
	return errors.New("sink down")
}

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	bad := &failingSink{}
	rec := &Recorder{}
	f := Fanout{bad, rec}
	if err := f.Publish(context.Background(), NewEvent(EvidenceSubmitted, time.Now())); err != nil {
		t.Fatalf("Fanout should swallow sink errors, got %v", err)
	}
	if bad.n != 1 || len(rec.Events()) != 1 {
		t.Fatalf("expected both sinks to be called, bad=%d rec=%d", bad.n, len(rec.Events()))
	}
}

func TestNewEventIDsAreUniqueAndUTC(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	a := NewEvent(RefundIssued, time.Date(2026, 1, 1, 1, 0, 0, 0, loc))
	b := NewEvent(RefundIssued, time.Now())
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q %q", a.ID, b.ID)
	}
	if a.At.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp")
	}
}

func TestJSONLSinkAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	s, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	ctx := context.Background()
	for _, inv := range []uint64{1, 2, 1} {
		ev := NewEvent(EvidenceSubmitted, time.Now())
		ev.InvestigationID = inv
		if err := s.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	got, err := s.ReadInvestigation(1)
	if err != nil {
		t.Fatalf("ReadInvestigation: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for investigation 1, got %d", len(got))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Publish(ctx, NewEvent(RefundIssued, time.Now())); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestHubStreamsFilteredEvents(t *testing.T) {
	hub := NewHub()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+ts.URL[4:]+"?investigation_id=7", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	other := NewEvent(EvidenceSubmitted, time.Now())
	other.InvestigationID = 8
	mine := NewEvent(DecryptionCompleted, time.Now())
	mine.InvestigationID = 7
	_ = hub.Publish(context.Background(), other)
	_ = hub.Publish(context.Background(), mine)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.ID != mine.ID || got.Kind != DecryptionCompleted {
		t.Fatalf("expected filtered event %s, got %+v", mine.ID, got)
	}
}

func TestHubRejectsBadFilter(t *testing.T) {
	ts := httptest.NewServer(NewHub())
	defer ts.Close()
	_, resp, err := websocket.DefaultDialer.Dial("ws"+ts.URL[4:]+"?investigation_id=abc", nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400 response, got %+v", resp)
	}
}

func TestRedisPublisherLive(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("set REDIS_URL to run redis publisher test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	channel := "courtlane:test:" + NewEvent(RoleGranted, time.Now()).ID
	p := NewRedisPublisher(rdb, channel, 2)

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.Publish(ctx, NewEvent(RoleGranted, time.Now())); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil || msg.Payload == "" {
		t.Fatalf("expected pubsub message, err=%v", err)
	}
	recent, err := p.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(recent))
	}
	_ = rdb.Del(ctx, channel+":history").Err()
}
