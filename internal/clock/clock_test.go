package clock

import (
	"testing"
	"time"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Fake(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, c.Now())
	}
}

func TestReal_Moves(t *testing.T) {
	before := time.Now()
	if Real().Now().Before(before) {
		t.Fatal("real clock went backwards")
	}
}
