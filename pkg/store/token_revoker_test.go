package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevokerExpires(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-1", 20*time.Millisecond); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := r.IsRevoked("jti-1"); !ok {
		t.Fatalf("expected token revoked")
	}
	time.Sleep(40 * time.Millisecond)
	if ok, _ := r.IsRevoked("jti-1"); ok {
		t.Fatalf("expected revocation to lapse")
	}
	if err := r.Revoke("jti-2", 0); err != nil {
		t.Fatalf("revoke zero ttl: %v", err)
	}
	if ok, _ := r.IsRevoked("jti-2"); ok {
		t.Fatalf("zero ttl should not revoke")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedisTokenRevoker(client)
	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err := r.IsRevoked("jti-1")
	if err != nil || !ok {
		t.Fatalf("expected revoked, ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := r.IsRevoked("jti-1"); ok {
		t.Fatalf("expected key to expire")
	}
}
