package chat

import (
	"fmt"
	"strings"
)

// ContentKind is the closed set of message content kinds. Adding a kind means
// extending the codec table below, not scattering conditionals.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindVideo    ContentKind = "video"
	KindAudio    ContentKind = "audio"
	KindFile     ContentKind = "file"
	KindLocation ContentKind = "location"
	KindContact  ContentKind = "contact"
	KindPoll     ContentKind = "poll"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	_, ok := kindCodecs[k]
	return ok
}

// Attachment reports whether k encodes a remote artifact URL.
func (k ContentKind) Attachment() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// Content is the decoded view of a message's content string.
//
// For text, Text carries the body. For attachment kinds, URL carries the
// remote artifact and Caption the optional newline-delimited caption. For
// location/contact/poll, Text carries the kind-specific encoded payload.
type Content struct {
	Kind    ContentKind
	Text    string
	URL     string
	Caption string
}

type kindCodec struct {
	encode func(Content) string
	decode func(raw string) Content
}

func encodeTextContent(c Content) string { return c.Text }

func encodeAttachmentContent(c Content) string {
	if strings.TrimSpace(c.Caption) == "" {
		return c.URL
	}
	return c.URL + "\n" + c.Caption
}

func decodeAttachmentContent(raw string) Content {
	url, caption, _ := strings.Cut(raw, "\n")
	return Content{URL: url, Caption: caption}
}

// kindCodecs is the closed dispatch table: one codec per kind.
var kindCodecs = map[ContentKind]kindCodec{
	KindText: {
		encode: encodeTextContent,
		decode: func(raw string) Content { return Content{Text: raw} },
	},
	KindImage: {encode: encodeAttachmentContent, decode: decodeAttachmentContent},
	KindVideo: {encode: encodeAttachmentContent, decode: decodeAttachmentContent},
	KindAudio: {encode: encodeAttachmentContent, decode: decodeAttachmentContent},
	KindFile:  {encode: encodeAttachmentContent, decode: decodeAttachmentContent},
	KindLocation: {
		encode: encodeTextContent,
		decode: func(raw string) Content { return Content{Text: raw} },
	},
	KindContact: {
		encode: encodeTextContent,
		decode: func(raw string) Content { return Content{Text: raw} },
	},
	KindPoll: {
		encode: encodeTextContent,
		decode: func(raw string) Content { return Content{Text: raw} },
	},
}

// EncodeContent renders a Content into the wire content string for its kind.
func EncodeContent(c Content) (string, error) {
	codec, ok := kindCodecs[c.Kind]
	if !ok {
		return "", fmt.Errorf("unknown content kind: %q", c.Kind)
	}
	return codec.encode(c), nil
}

// DecodeContent parses a wire content string for the given kind.
func DecodeContent(kind ContentKind, raw string) (Content, error) {
	codec, ok := kindCodecs[kind]
	if !ok {
		return Content{}, fmt.Errorf("unknown content kind: %q", kind)
	}
	c := codec.decode(raw)
	c.Kind = kind
	return c, nil
}
