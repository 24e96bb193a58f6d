package ring

import (
	"fmt"
	"testing"
	"time"

	"github.com/relaylens/captureproxy/internal/logrecord"
)

func rec(id string) *logrecord.LogRecord {
	return &logrecord.LogRecord{ID: id}
}

func TestPushBoundsCapacityNewestFirst(t *testing.T) {
	b := New(2000)
	for i := 0; i < 2500; i++ {
		b.Push(rec(fmt.Sprintf("rec-%d", i)))
	}
	if got := b.Len(); got != 2000 {
		t.Fatalf("Len() = %d, want 2000", got)
	}
	snap := b.Snapshot(1)
	if snap[0].ID != "rec-2499" {
		t.Fatalf("newest record = %q, want rec-2499", snap[0].ID)
	}
	all := b.Snapshot(0)
	if all[len(all)-1].ID != "rec-500" {
		t.Fatalf("oldest retained record = %q, want rec-500 (first 500 dropped)", all[len(all)-1].ID)
	}
}

func TestClear(t *testing.T) {
	b := New(10)
	b.Push(rec("a"))
	b.Clear()
	if got := b.Len(); got != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", got)
	}
}

func TestSubscribeReceivesSubsequentPush(t *testing.T) {
	b := New(10)
	sub := b.Subscribe()
	defer sub.Close()

	b.Push(rec("x"))

	select {
	case got := <-sub.C:
		if got.ID != "x" {
			t.Fatalf("got %q, want x", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber delivery")
	}
}

func TestSlowSubscriberDropsWithoutBlockingOthers(t *testing.T) {
	b := New(10)
	slow := b.Subscribe()
	defer slow.Close()
	fast := b.Subscribe()
	defer fast.Close()

	// Fill the slow subscriber's queue without draining it.
	for i := 0; i < subscriberQueueSize+10; i++ {
		b.Push(rec(fmt.Sprintf("r-%d", i)))
	}

	// The fast subscriber's channel is also bounded to subscriberQueueSize,
	// but the push loop itself must not have blocked: verify we reached here.
	if b.Len() != 10 {
		t.Fatalf("Len() = %d, want 10 (ring capacity)", b.Len())
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(10)
	sub := b.Subscribe()
	sub.Close()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", got)
	}
	// Pushing after close must not panic.
	b.Push(rec("after-close"))
}
