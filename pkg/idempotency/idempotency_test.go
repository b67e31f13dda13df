package idempotency

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	status int
	body   map[string]any
	found  bool
	getErr error
	saveN  int
}

func (f *fakeStore) GetIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	if f.getErr != nil {
		return 0, nil, false, f.getErr
	}
	return f.status, f.body, f.found, nil
}

func (f *fakeStore) SaveIdempotencyRecord(ctx context.Context, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	f.status = responseStatus
	f.body = responseBody
	f.found = true
	f.saveN++
	return nil
}

func TestReplayNoKeyNoop(t *testing.T) {
	st := &fakeStore{found: true}
	_, _, replayed, err := Replay(context.Background(), st, ActorContext{ActorID: "inv-1"}, "POST /custody/v1/investigations")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if replayed {
		t.Fatalf("expected replayed=false without key")
	}
	if err := Save(context.Background(), st, ActorContext{ActorID: "inv-1"}, "POST /x", 201, nil); err != nil || st.saveN != 0 {
		t.Fatalf("expected save to be skipped without key, err=%v saves=%d", err, st.saveN)
	}
}

func TestReplayPropagatesStoreError(t *testing.T) {
	st := &fakeStore{getErr: errors.New("db down")}
	_, _, _, err := Replay(context.Background(), st, ActorContext{ActorID: "a", IdempotencyKey: "k"}, "POST /x")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemoryStoreSaveThenReplay(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	actor := ActorContext{ActorID: "inv-1", IdempotencyKey: "k1"}
	endpoint := "POST /custody/v1/investigations/{id}/evidence"

	if err := Save(ctx, st, actor, endpoint, 201, map[string]any{"evidence_id": 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Save(ctx, st, actor, endpoint, 409, map[string]any{"evidence_id": 2}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	status, body, replayed, err := Replay(ctx, st, actor, endpoint)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed || status != 201 {
		t.Fatalf("expected first response to be replayed, got replayed=%v status=%d", replayed, status)
	}
	if body["evidence_id"] != float64(1) {
		t.Fatalf("unexpected body %#v", body)
	}

	_, _, replayed, _ = Replay(ctx, st, ActorContext{ActorID: "inv-2", IdempotencyKey: "k1"}, endpoint)
	if replayed {
		t.Fatalf("keys must be scoped per actor")
	}
}
