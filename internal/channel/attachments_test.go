package channel

import (
	"reflect"
	"testing"
)

func paths(atts []Attachment) []string {
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.Path)
	}
	return out
}

func TestCollectAttachmentsDedupesAcrossBatch(t *testing.T) {
	t.Parallel()

	batch := []Message{
		{ID: "1", Attachments: []Attachment{{Name: "a.png", Path: "inbox/A"}, {Name: "b.png", Path: "inbox/B"}}},
		{ID: "2"},
		{ID: "3", Attachments: []Attachment{{Name: "a-again.png", Path: "inbox/A"}, {Name: "c.pdf", Path: "inbox/C"}}},
	}
	got := CollectAttachments(batch)
	if want := []string{"inbox/A", "inbox/B", "inbox/C"}; !reflect.DeepEqual(paths(got), want) {
		t.Fatalf("got %v, want %v", paths(got), want)
	}
	if got[0].Name != "a.png" {
		t.Fatalf("first occurrence must win, got %q", got[0].Name)
	}
}

func TestCollectAttachmentsIdempotent(t *testing.T) {
	t.Parallel()

	once := CollectAttachments([]Message{{Attachments: []Attachment{
		{Path: "x"}, {Path: "y"}, {Path: "x"}, {Path: "z"}, {Path: "y"},
	}}})
	twice := DedupeAttachments(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("dedupe is not idempotent: %v vs %v", once, twice)
	}
}

func TestCollectAttachmentsEmpty(t *testing.T) {
	t.Parallel()

	if got := CollectAttachments(nil); len(got) != 0 {
		t.Fatalf("expected no attachments, got %v", got)
	}
}

func TestClassifyMedia(t *testing.T) {
	t.Parallel()

	cases := map[string]MediaClass{
		"image/png":       MediaImage,
		"VIDEO/mp4":       MediaVideo,
		"audio/ogg":       MediaAudio,
		"application/pdf": MediaFile,
		"":                MediaFile,
	}
	for in, want := range cases {
		if got := ClassifyMedia(in); got != want {
			t.Fatalf("ClassifyMedia(%q) = %q, want %q", in, got, want)
		}
	}
}
