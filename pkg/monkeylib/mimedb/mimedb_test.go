package mimedb

import "testing"

func TestLookupDefaults(t *testing.T) {
	db := New()
	db.Start()

	cases := []struct {
		ext  string
		want string
	}{
		{"html", "text/html; charset=utf-8"},
		{".html", "text/html; charset=utf-8"},
		{"HTML", "text/html; charset=utf-8"},
		{"json", "application/json"},
		{"unknownext", ""},
	}
	for _, c := range cases {
		got, ok := db.Lookup(c.ext)
		if c.want == "" {
			if ok {
				t.Errorf("Lookup(%q) = %q, want not found", c.ext, got)
			}
			continue
		}
		if !ok || got != c.want {
			t.Errorf("Lookup(%q) = (%q, %v), want (%q, true)", c.ext, got, ok, c.want)
		}
	}
}

func TestLookupPath(t *testing.T) {
	db := New()
	db.Start()

	got, ok := db.LookupPath("/var/www/site/index.html")
	if !ok || got != "text/html; charset=utf-8" {
		t.Errorf("LookupPath = (%q, %v), want text/html; charset=utf-8", got, ok)
	}

	if _, ok := db.LookupPath("/var/www/site/noext"); ok {
		t.Error("LookupPath on extensionless path should not match")
	}
}

func TestRegisterOverridesDefault(t *testing.T) {
	db := New()
	db.Register("html", "application/x-custom-html")
	db.Start()

	got, ok := db.Lookup("html")
	if !ok || got != "application/x-custom-html" {
		t.Errorf("Lookup(html) = (%q, %v), want overridden type", got, ok)
	}
}

func TestRegisterAfterStartPanics(t *testing.T) {
	db := New()
	db.Start()

	defer func() {
		if recover() == nil {
			t.Error("Register after Start should panic")
		}
	}()
	db.Register("xyz", "application/xyz")
}
