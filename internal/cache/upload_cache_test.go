package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSignatureDependsOnProcessAndContent(t *testing.T) {
	first := Signature("process-1", []byte("a;b;c"))
	if first != Signature("process-1", []byte("a;b;c")) {
		t.Fatalf("expected stable signature")
	}
	if first == Signature("process-2", []byte("a;b;c")) {
		t.Fatalf("expected process id to change signature")
	}
	if first == Signature("process-1", []byte("a;b;d")) {
		t.Fatalf("expected content to change signature")
	}
}

func TestGetExpiresEntries(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewUploadCache(Config{TTL: time.Minute})
	c.now = func() time.Time { return current }

	c.Set("sig", Entry{Value: json.RawMessage(`[]`), ProcessID: "process-1"})
	if _, ok := c.Get("sig"); !ok {
		t.Fatalf("expected fresh entry to be returned")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := c.Get("sig"); ok {
		t.Fatalf("expected expired entry to be dropped")
	}
	if c.Len() != 0 {
		t.Fatalf("expected cache to be empty, got %d", c.Len())
	}
}

func TestSetEvictsOldestWhenFull(t *testing.T) {
	current := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewUploadCache(Config{TTL: time.Hour, MaxEntries: 2})
	c.now = func() time.Time { return current }

	c.Set("a", Entry{ProcessID: "p1"})
	current = current.Add(time.Second)
	c.Set("b", Entry{ProcessID: "p1"})
	current = current.Add(time.Second)
	c.Set("c", Entry{ProcessID: "p2"})

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected newest entry to be present")
	}
	if removed := c.Invalidate("p1"); removed != 1 {
		t.Fatalf("expected one entry invalidated, got %d", removed)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewUploadCache(Config{})
	c.Set("sig", Entry{Value: json.RawMessage(`[1]`)})

	entry, _ := c.Get("sig")
	entry.Value[0] = 'x'

	again, _ := c.Get("sig")
	if string(again.Value) != "[1]" {
		t.Fatalf("expected cached value to be isolated, got %s", again.Value)
	}
}
