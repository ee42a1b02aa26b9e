package utils

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
	if got := Truncate("abcdefghij", 8); got != "abcde..." {
		t.Errorf("Truncate = %q, want abcde...", got)
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Errorf("Truncate tiny = %q", got)
	}
}

func TestTruncateMiddle(t *testing.T) {
	long := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	got := TruncateMiddle(long, 200)

	if len([]rune(got)) > 200 {
		t.Errorf("length = %d, want <= 200", len([]rune(got)))
	}
	if !strings.HasPrefix(got, "a") || !strings.HasSuffix(got, "z") {
		t.Error("head and tail must both survive")
	}
	if !strings.Contains(got, "truncated") {
		t.Error("expected truncation marker")
	}

	if got := TruncateMiddle("tiny", 100); got != "tiny" {
		t.Errorf("short input mutated: %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("one\ntwo\nthree"); got != "one" {
		t.Errorf("FirstLine = %q", got)
	}
	if got := FirstLine("  spaced  "); got != "spaced" {
		t.Errorf("FirstLine = %q", got)
	}
}
