package chat

import "testing"

func TestContentKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range []ContentKind{KindText, KindImage, KindVideo, KindAudio, KindFile, KindLocation, KindContact, KindPoll} {
		if !k.Valid() {
			t.Fatalf("expected %q to be valid", k)
		}
	}
	if ContentKind("sticker").Valid() {
		t.Fatalf("expected unknown kind to be invalid")
	}
}

func TestAttachmentKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind ContentKind
		want bool
	}{
		{KindText, false},
		{KindImage, true},
		{KindVideo, true},
		{KindAudio, true},
		{KindFile, true},
		{KindLocation, false},
		{KindContact, false},
		{KindPoll, false},
	}

	for _, tc := range cases {
		if got := tc.kind.Attachment(); got != tc.want {
			t.Fatalf("%q.Attachment()=%v want=%v", tc.kind, got, tc.want)
		}
	}
}

func TestEncodeDecodeAttachmentContent(t *testing.T) {
	t.Parallel()

	encoded, err := EncodeContent(Content{Kind: KindImage, URL: "https://cdn.example/x.jpg", Caption: "sunset"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if encoded != "https://cdn.example/x.jpg\nsunset" {
		t.Fatalf("encoded=%q", encoded)
	}

	decoded, err := DecodeContent(KindImage, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.URL != "https://cdn.example/x.jpg" || decoded.Caption != "sunset" {
		t.Fatalf("decoded=%+v", decoded)
	}
	if decoded.Kind != KindImage {
		t.Fatalf("decoded kind=%q", decoded.Kind)
	}
}

func TestEncodeAttachmentWithoutCaption(t *testing.T) {
	t.Parallel()

	encoded, err := EncodeContent(Content{Kind: KindFile, URL: "https://cdn.example/doc.pdf"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if encoded != "https://cdn.example/doc.pdf" {
		t.Fatalf("encoded=%q", encoded)
	}

	decoded, err := DecodeContent(KindFile, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.URL != "https://cdn.example/doc.pdf" || decoded.Caption != "" {
		t.Fatalf("decoded=%+v", decoded)
	}
}

func TestTextContentRoundTrip(t *testing.T) {
	t.Parallel()

	encoded, err := EncodeContent(Content{Kind: KindText, Text: "hello\nworld"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeContent(KindText, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Text != "hello\nworld" {
		t.Fatalf("text=%q", decoded.Text)
	}
}

func TestUnknownKindRejected(t *testing.T) {
	t.Parallel()

	if _, err := EncodeContent(Content{Kind: "sticker"}); err == nil {
		t.Fatalf("expected encode error for unknown kind")
	}
	if _, err := DecodeContent("sticker", "x"); err == nil {
		t.Fatalf("expected decode error for unknown kind")
	}
}
