// Package sanitize turns a raw RFC 822 byte blob into a structured,
// storable SanitizedBody: plaintext, a content hash, a MIME summary,
// and attachment descriptors (spec.md §4.1). Sanitize is pure,
// deterministic, and total — it never returns an error and never
// panics, falling back to a lossy view of the raw bytes on anything
// it can't parse cleanly.
package sanitize

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/cespare/xxhash/v2"
	gomessage "github.com/emersion/go-message"
)

func init() {
	// Hand charset decoding to decodeCharset below instead of
	// go-message's built-in (and less forgiving) charset reader.
	gomessage.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) {
		return r, nil
	}
}

// maxPartSize bounds how much of any single MIME part is read into
// memory, so one pathological message can't exhaust the parse pool's
// memory budget.
const maxPartSize = 10 << 20 // 10 MiB

// Attachment describes one attachment without its content.
type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Size        int
}

// SanitizedBody is the sanitizer's total output for one message.
type SanitizedBody struct {
	PlainText      string
	ContentHash    string
	HasAttachments bool
	Attachments    []Attachment
	MimeSummary    string
}

// walkState accumulates everything a single depth-first pass over the
// MIME tree produces, so the tree is only ever read once (entity
// bodies are one-shot streams).
type walkState struct {
	summary    strings.Builder
	plainText  string
	htmlText   string
	havePlain  bool
	haveHTML   bool
	attachments []Attachment
}

// Sanitize parses raw as an RFC 822 message and extracts everything
// the store needs at ingest time, so later reads never re-parse MIME
// (spec.md §4.1).
func Sanitize(raw []byte) SanitizedBody {
	body := SanitizedBody{ContentHash: contentHash(raw)}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil {
		body.PlainText = lossyUTF8(raw)
		body.MimeSummary = "text/plain (unparsed)"
		return body
	}

	state := &walkState{}
	walk(entity, 0, state)

	body.MimeSummary = strings.TrimRight(state.summary.String(), "\n")
	body.Attachments = state.attachments
	body.HasAttachments = len(state.attachments) > 0

	switch {
	case state.havePlain:
		body.PlainText = state.plainText
	case state.haveHTML:
		body.PlainText = htmlToPlainText(state.htmlText)
	default:
		body.PlainText = lossyUTF8(raw)
	}
	return body
}

// contentHash is a fast non-cryptographic hash over the full raw
// message, used only as a legacy-row dedupe tiebreaker (spec.md §4.1,
// §4.4's dedupe_legacy).
func contentHash(raw []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(raw))
}

// walk performs the single pass spec.md §4.1 describes: it records
// the MIME summary, the first text/plain and text/html bodies found
// depth-first, and every attachment, in one read of the stream.
func walk(entity *gomessage.Entity, depth int, state *walkState) {
	contentType, params, _ := mime.ParseMediaType(entity.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "text/plain"
	}
	fmt.Fprintf(&state.summary, "%s%s\n", strings.Repeat("  ", depth), contentType)

	mr := entity.MultipartReader()
	if mr == nil {
		switch contentType {
		case "text/plain":
			if !state.havePlain {
				content, charsetName := readPart(entity, params, contentType)
				state.plainText, state.havePlain = decodeCharset(content, charsetName), true
			}
		case "text/html":
			if !state.haveHTML {
				content, charsetName := readPart(entity, params, contentType)
				state.htmlText, state.haveHTML = decodeCharset(content, charsetName), true
			}
		}
		return
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		partType, ctParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		contentID := strings.Trim(part.Header.Get("Content-ID"), "<>")

		if disposition == "attachment" {
			state.attachments = append(state.attachments, attachmentFrom(part, partType, dispParams, ctParams, contentID))
			fmt.Fprintf(&state.summary, "%s%s (attachment)\n", strings.Repeat("  ", depth+1), partType)
			continue
		}

		if strings.HasPrefix(partType, "multipart/") {
			walk(part, depth+1, state)
			continue
		}

		switch partType {
		case "text/plain":
			fmt.Fprintf(&state.summary, "%s%s\n", strings.Repeat("  ", depth+1), partType)
			if !state.havePlain {
				content, charsetName := readPart(part, ctParams, partType)
				state.plainText, state.havePlain = decodeCharset(content, charsetName), true
			}
		case "text/html":
			fmt.Fprintf(&state.summary, "%s%s\n", strings.Repeat("  ", depth+1), partType)
			if !state.haveHTML {
				content, charsetName := readPart(part, ctParams, partType)
				state.htmlText, state.haveHTML = decodeCharset(content, charsetName), true
			}
		default:
			fmt.Fprintf(&state.summary, "%s%s\n", strings.Repeat("  ", depth+1), partType)
		}
	}
}

func readPart(entity *gomessage.Entity, params map[string]string, contentType string) ([]byte, string) {
	content, _ := io.ReadAll(io.LimitReader(entity.Body, maxPartSize))
	charsetName := params["charset"]
	if charsetName == "" && contentType == "text/html" {
		charsetName = extractCharsetFromHTML(content)
	}
	return content, charsetName
}

func attachmentFrom(part *gomessage.Entity, contentType string, dispParams, ctParams map[string]string, contentID string) Attachment {
	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}
	if filename == "" {
		filename = "attachment"
	}
	content, _ := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
	return Attachment{
		Filename:    filename,
		ContentType: contentType,
		ContentID:   contentID,
		Size:        len(content),
	}
}

// lossyUTF8 renders raw bytes as best-effort text, dropping anything
// that isn't printable ASCII or a line-ending, for the last-resort
// fallback path (spec.md §4.1 step 4).
func lossyUTF8(raw []byte) string {
	var out strings.Builder
	for _, b := range raw {
		if (b >= 32 && b < 127) || b == '\n' || b == '\r' || b == '\t' {
			out.WriteByte(b)
		}
	}
	return strings.TrimSpace(out.String())
}
