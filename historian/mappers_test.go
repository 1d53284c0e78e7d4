package historian

import (
	"reflect"
	"testing"
)

func TestTagTitlesForItem(t *testing.T) {
	item := PendingItem{
		Topic:        "Quantum Computing",
		Day:          "2026-08-28",
		SourceDomain: "news.example.com",
	}
	got := TagTitlesForItem(item, "google-alerts", true)
	want := []string{
		"source/google-alerts",
		"topic/quantum-computing",
		"timeline/2026-08-28",
		"domain/news.example.com",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected tag titles: %v", got)
	}

	got = TagTitlesForItem(item, "google-alerts", false)
	if len(got) != 3 {
		t.Fatalf("expected no domain tag when disabled, got %v", got)
	}

	item.SourceDomain = ""
	got = TagTitlesForItem(item, "google-alerts", true)
	if len(got) != 3 {
		t.Fatalf("expected no blank domain tag, got %v", got)
	}
}

func TestToBookmarkRequest(t *testing.T) {
	req := ToBookmarkRequest(PendingItem{
		Title: " A  Title ",
		URL:   "https://e.com/a",
	}, []int64{1, 2})
	if req.Title != "A Title" || req.URL != "https://e.com/a" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if !req.Scrapable || len(req.TagIDs) != 2 {
		t.Fatalf("unexpected request flags: %+v", req)
	}

	// Blank titles fall back to the URL.
	req = ToBookmarkRequest(PendingItem{Title: "   ", URL: "https://e.com/b"}, nil)
	if req.Title != "https://e.com/b" {
		t.Fatalf("expected URL fallback, got %q", req.Title)
	}
}
