package main

import (
	"testing"
	"time"
)

func TestStampRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	got, ok := sentAt(stamp(now, "xxxx"))
	if !ok || !got.Equal(now) {
		t.Fatalf("sentAt = %v, %v", got, ok)
	}
	for _, bad := range []string{"", "no-colon", "abc:payload"} {
		if _, ok := sentAt(bad); ok {
			t.Errorf("sentAt(%q) should fail", bad)
		}
	}
}
