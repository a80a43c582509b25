package model

import "testing"

// TestHeaders tests ordered header list semantics.
func TestHeaders(t *testing.T) {
	t.Parallel()

	t.Run("Set replaces same-named headers and appends at the end", func(t *testing.T) {
		t.Parallel()

		var h Headers
		h.Add("Content-Length", "1")
		h.Add("Accept", "*/*")
		h.Add("content-length", "2")
		h.Set("Content-Length", "3")

		if len(h) != 2 {
			t.Fatalf("expected 2 headers, got %d: %v", len(h), h)
		}
		if h[0].Name != "Accept" {
			t.Errorf("expected Accept first, got %q", h[0].Name)
		}
		if h[1].Value != "3" {
			t.Errorf("expected replaced value '3' last, got %q", h[1].Value)
		}
	})

	t.Run("Get is case-insensitive and returns first value", func(t *testing.T) {
		t.Parallel()

		h := Headers{{Name: "Set-Cookie", Value: "a=1"}, {Name: "set-cookie", Value: "b=2"}}
		if got := h.Get("SET-COOKIE"); got != "a=1" {
			t.Errorf("expected 'a=1', got %q", got)
		}
		if got := h.Values("Set-Cookie"); len(got) != 2 {
			t.Errorf("expected 2 values, got %v", got)
		}
		if h.Has("Location") {
			t.Error("expected Location to be absent")
		}
	})

	t.Run("Clone is independent", func(t *testing.T) {
		t.Parallel()

		h := Headers{{Name: "A", Value: "1"}}
		c := h.Clone()
		c.Set("A", "2")
		if h.Get("A") != "1" {
			t.Error("clone modified the original")
		}
	})
}
