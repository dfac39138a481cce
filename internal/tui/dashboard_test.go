package tui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestApplyTracksPhaseAndLine(t *testing.T) {
	m := New(nil)
	m.apply(Event{Key: "a.pkg@1", Phase: "fetch"})
	m.apply(Event{Key: "a.pkg@1", Line: "downloading...", IsLine: true})

	row, ok := m.rows["a.pkg@1"]
	if !ok {
		t.Fatal("expected row to exist")
	}
	if row.Phase != "fetch" {
		t.Fatalf("expected phase fetch, got %s", row.Phase)
	}
	if row.LastLine != "downloading..." {
		t.Fatalf("unexpected last line: %s", row.LastLine)
	}
}

func TestApplyMarksFailure(t *testing.T) {
	m := New(nil)
	m.apply(Event{Key: "a.pkg@1", Phase: "failed", Failed: true})
	if !m.rows["a.pkg@1"].Failed {
		t.Fatal("expected row marked failed")
	}
}

func TestViewListsPackagesInSortedOrder(t *testing.T) {
	m := New(nil)
	m.apply(Event{Key: "b.pkg@1", Phase: "build"})
	m.apply(Event{Key: "a.pkg@1", Phase: "fetch"})
	out := m.View()
	if out == "" {
		t.Fatal("expected non-empty view")
	}
	a, b := strings.Index(out, "a.pkg@1"), strings.Index(out, "b.pkg@1")
	if a < 0 || b < 0 || a > b {
		t.Fatalf("expected a.pkg@1 listed before b.pkg@1, got:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected unchanged, got %q", got)
	}
	if got := truncate("a very long string indeed", 10); utf8.RuneCountInString(got) != 10 {
		t.Fatalf("expected truncated to 10 runes, got %q (%d)", got, utf8.RuneCountInString(got))
	}
}
