package proto

import (
	"fmt"
	"testing"
)

func TestHeaderGetIsCaseInsensitive(t *testing.T) {
	var h Header
	buf := []byte("Content-Type: text/plain")
	h.setBuf(buf)
	h.add(0, 12, 14, len(buf))

	if v, ok := h.GetString([]byte("content-type")); !ok || v != "text/plain" {
		t.Errorf("GetString(content-type) = (%q, %v), want (text/plain, true)", v, ok)
	}
	if v, ok := h.GetString([]byte("CONTENT-TYPE")); !ok || v != "text/plain" {
		t.Errorf("GetString(CONTENT-TYPE) = (%q, %v), want (text/plain, true)", v, ok)
	}
}

func TestHeaderEmptyValueIsNull(t *testing.T) {
	var h Header
	buf := []byte("X-Empty:")
	h.setBuf(buf)
	h.add(0, 7, 8, 8) // valueStart == valueEnd: an empty value

	if !h.Has([]byte("X-Empty")) {
		t.Error("Has(X-Empty) = false, want true")
	}
	if v, ok := h.Get([]byte("X-Empty")); ok {
		t.Errorf("Get(X-Empty) = (%q, true), want (nil, false)", v)
	}
}

func TestHeaderOverflowBeyondInlineCapacity(t *testing.T) {
	var h Header
	var buf []byte
	type want struct{ name, value string }
	var wants []want

	for i := 0; i < MaxHeaders+5; i++ {
		name := fmt.Sprintf("X-Header-%d", i)
		value := fmt.Sprintf("v%d", i)
		nameStart := len(buf)
		buf = append(buf, name...)
		nameEnd := len(buf)
		valueStart := len(buf)
		buf = append(buf, value...)
		valueEnd := len(buf)
		h.setBuf(buf) // buf may have been reallocated by append
		h.add(nameStart, nameEnd, valueStart, valueEnd)
		wants = append(wants, want{name, value})
	}

	if h.Len() != MaxHeaders+5 {
		t.Fatalf("Len() = %d, want %d", h.Len(), MaxHeaders+5)
	}
	for _, w := range wants {
		v, ok := h.GetString([]byte(w.name))
		if !ok || v != w.value {
			t.Errorf("GetString(%q) = (%q, %v), want (%q, true)", w.name, v, ok, w.value)
		}
	}
}

func TestHeaderVisitAllStopsEarly(t *testing.T) {
	var h Header
	buf := []byte("A:1B:2C:3")
	h.setBuf(buf)
	h.add(0, 1, 2, 3)
	h.add(3, 4, 5, 6)
	h.add(6, 7, 8, 9)

	var seen []string
	h.VisitAll(func(name, value []byte) bool {
		seen = append(seen, string(name))
		return len(seen) < 2
	})
	if len(seen) != 2 {
		t.Fatalf("VisitAll visited %d headers, want 2 (should stop when fn returns false)", len(seen))
	}
}
