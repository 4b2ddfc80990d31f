package clock

import (
	"net/http"
	"testing"
	"time"
)

func TestNewPopulatesImmediately(t *testing.T) {
	c := New()

	now := c.Now()
	if now.IsZero() {
		t.Fatal("Now() returned zero time before Start was called")
	}
	if time.Since(now) > time.Second {
		t.Errorf("Now() = %v, too far from time.Now()", now)
	}

	header := c.DateHeader()
	if len(header) == 0 {
		t.Fatal("DateHeader() returned empty bytes before Start")
	}
	if _, err := http.ParseTime(string(header)); err != nil {
		t.Errorf("DateHeader() = %q, not a valid RFC 7231 date: %v", header, err)
	}
}

func TestStartStop(t *testing.T) {
	c := New()
	c.Start()
	defer c.Stop()

	if c.Now().IsZero() {
		t.Error("Now() should still return the initial snapshot right after Start")
	}
}
