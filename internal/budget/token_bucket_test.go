package budget

import (
	"testing"
	"time"
)

func TestDisabledBucketAlwaysConsumes(t *testing.T) {
	b := New(0, 0)
	defer b.Close()
	for i := 0; i < 100; i++ {
		if !b.ConsumeQuarantine() {
			t.Fatal("disabled bucket should always allow consumption")
		}
	}
	if b.Remaining() != -1 {
		t.Errorf("Remaining() = %d, want -1 for disabled bucket", b.Remaining())
	}
}

func TestBucketExhaustsAndRefills(t *testing.T) {
	b := New(2, 30*time.Millisecond)
	defer b.Close()

	if !b.ConsumeQuarantine() {
		t.Fatal("expected first consume to succeed")
	}
	if !b.ConsumeQuarantine() {
		t.Fatal("expected second consume to succeed")
	}
	if b.ConsumeQuarantine() {
		t.Fatal("expected third consume to fail (capacity exhausted)")
	}

	time.Sleep(60 * time.Millisecond)
	if !b.ConsumeQuarantine() {
		t.Fatal("expected consume to succeed after refill")
	}
}

func TestConsumedTotalTracksUsage(t *testing.T) {
	b := New(5, time.Minute)
	defer b.Close()
	b.ConsumeQuarantine()
	b.ConsumeQuarantine()
	if got := b.ConsumedTotal(); got != 2 {
		t.Errorf("ConsumedTotal() = %d, want 2", got)
	}
}
