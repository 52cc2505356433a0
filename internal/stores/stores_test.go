package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestIdempotencyRecordWrittenOnce(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewIdempotencyStore(rdb, "")
	ctx := context.Background()

	rec, err := s.Get(ctx, "k1")
	if err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v err=%v", rec, err)
	}

	first := &IdempotencyRecord{Fingerprint: "fp", Status: 201, Body: []byte(`{"id":1}`), CreatedAt: time.Unix(100, 0).UTC()}
	ok, err := s.Save(ctx, "k1", first, time.Hour)
	if err != nil || !ok {
		t.Fatalf("first save failed ok=%v err=%v", ok, err)
	}

	ok, err = s.Save(ctx, "k1", &IdempotencyRecord{Fingerprint: "other", Status: 200}, time.Hour)
	if err != nil {
		t.Fatalf("second save errored: %v", err)
	}
	if ok {
		t.Fatal("expected second save to be refused")
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Fingerprint != "fp" || got.Status != 201 || string(got.Body) != `{"id":1}` {
		t.Fatalf("unexpected record %+v", got)
	}
	if ttl := mr.TTL("gidem:rec:k1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected record ttl %s", ttl)
	}
}

func TestIdempotencyCorruptRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewIdempotencyStore(rdb, "")

	if err := mr.Set("gidem:rec:bad", "{not-json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := s.Get(context.Background(), "bad"); !errors.Is(err, ErrIdempotencyRecordCorrupt) {
		t.Fatalf("expected ErrIdempotencyRecordCorrupt, got %v", err)
	}
}

func TestIdempotencyLockOwnership(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewIdempotencyStore(rdb, "")
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "k", "owner-a", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire failed ok=%v err=%v", ok, err)
	}
	ok, err = s.Acquire(ctx, "k", "owner-b", 10*time.Second)
	if err != nil || ok {
		t.Fatalf("expected contended acquire to fail, ok=%v err=%v", ok, err)
	}

	if err := s.Release(ctx, "k", "owner-b"); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if !mr.Exists("gidem:lock:k") {
		t.Fatal("foreign release must not drop the lock")
	}

	if err := s.Release(ctx, "k", "owner-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists("gidem:lock:k") {
		t.Fatal("expected lock to be released")
	}
	if err := s.Release(ctx, "k", "owner-a"); err != nil {
		t.Fatalf("double release should be a no-op, got %v", err)
	}
}

func TestIdempotencyLockExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewIdempotencyStore(rdb, "")
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "k", "a", 10*time.Second); !ok {
		t.Fatal("acquire failed")
	}
	mr.FastForward(11 * time.Second)
	if ok, err := s.Acquire(ctx, "k", "b", 10*time.Second); err != nil || !ok {
		t.Fatalf("expected acquire after expiry, ok=%v err=%v", ok, err)
	}
}

func TestRevocationList(t *testing.T) {
	mr, rdb := newTestRedis(t)
	r := NewRevocationList(rdb, "")
	ctx := context.Background()

	issued := time.Unix(1_700_000_000, 0)

	revoked, err := r.IsRevoked(ctx, "u1", issued)
	if err != nil || revoked {
		t.Fatalf("expected not revoked, got %v err=%v", revoked, err)
	}

	if err := r.RevokeBefore(ctx, "u1", issued.Add(time.Second), 15*time.Minute); err != nil {
		t.Fatalf("RevokeBefore failed: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, "u1", issued); !revoked {
		t.Fatal("expected earlier token to be revoked")
	}
	if revoked, _ := r.IsRevoked(ctx, "u1", issued.Add(2*time.Second)); revoked {
		t.Fatal("expected later token to survive")
	}

	if err := r.RevokeBefore(ctx, "u1", issued.Add(-time.Hour), 15*time.Minute); err != nil {
		t.Fatalf("RevokeBefore failed: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, "u1", issued.Add(time.Second)); !revoked {
		t.Fatal("older mark must not lower an existing one")
	}

	if err := r.RevokeBefore(ctx, "u2", issued.Add(250*time.Millisecond), 15*time.Minute); err != nil {
		t.Fatalf("RevokeBefore failed: %v", err)
	}
	if revoked, _ := r.IsRevoked(ctx, "u2", issued.Add(250*time.Millisecond)); !revoked {
		t.Fatal("expected token from the revocation instant to be revoked")
	}
	if revoked, _ := r.IsRevoked(ctx, "u2", issued.Add(251*time.Millisecond)); revoked {
		t.Fatal("expected token a millisecond later to survive")
	}

	if ttl := mr.TTL("grev:u:u1"); ttl <= 0 {
		t.Fatalf("expected ttl on mark, got %s", ttl)
	}
}
