package marketplace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(NewOLXAdapter(), NewShafaAdapter(0))

	if _, ok := registry.Get("olx_ua"); !ok {
		t.Fatalf("expected olx_ua adapter")
	}
	if _, ok := registry.Get("shafa_ua"); !ok {
		t.Fatalf("expected shafa_ua adapter")
	}
	if _, ok := registry.Get("ebay"); ok {
		t.Fatalf("did not expect an ebay adapter")
	}
}

func TestCrop(t *testing.T) {
	if got := crop("short", 100); got != "short" {
		t.Fatalf("short string changed: %q", got)
	}

	exact := strings.Repeat("a", 100)
	if got := crop(exact, 100); got != exact {
		t.Fatalf("string at the limit changed: %q", got)
	}

	long := strings.Repeat("a", 150)
	got := crop(long, 100)
	if len(got) != 100 {
		t.Fatalf("expected cropped length 100, got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-10:])
	}
}

func TestCropCyrillic(t *testing.T) {
	long := strings.Repeat("Ноутбук ", 20)
	got := crop(long, 100)
	if !utf8.ValidString(got) {
		t.Fatalf("crop produced invalid UTF-8: %q", got)
	}
	if utf8.RuneCountInString(got) != 100 {
		t.Fatalf("expected 100 characters, got %d", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}

	// 60 Cyrillic characters are 120 bytes but fit a 100-character ceiling.
	short := strings.Repeat("Й", 60)
	if got := crop(short, 100); got != short {
		t.Fatalf("string under the character ceiling changed: %q", got)
	}
}
