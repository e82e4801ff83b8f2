package sanitize

import (
	"strings"
	"testing"
)

func TestSanitizePlainTextMessage(t *testing.T) {
	raw := []byte("From: a@example.com\r\nTo: b@example.com\r\nSubject: hi\r\nContent-Type: text/plain\r\n\r\nhello world\r\n")

	body := Sanitize(raw)

	if !strings.Contains(body.PlainText, "hello world") {
		t.Errorf("expected plain text body, got %q", body.PlainText)
	}
	if body.HasAttachments {
		t.Error("expected no attachments")
	}
	if body.ContentHash == "" {
		t.Error("expected a non-empty content hash")
	}
}

func TestSanitizePrefersPlainOverHTML(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: a@example.com",
		"Content-Type: multipart/alternative; boundary=XYZ",
		"",
		"--XYZ",
		"Content-Type: text/plain",
		"",
		"plain version",
		"--XYZ",
		"Content-Type: text/html",
		"",
		"<p>html version</p>",
		"--XYZ--",
		"",
	}, "\r\n"))

	body := Sanitize(raw)

	if !strings.Contains(body.PlainText, "plain version") {
		t.Errorf("expected plain part to win, got %q", body.PlainText)
	}
	if strings.Contains(body.PlainText, "html version") {
		t.Errorf("did not expect html part content, got %q", body.PlainText)
	}
}

func TestSanitizeFallsBackToHTML(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: a@example.com",
		"Content-Type: text/html",
		"",
		"<p>only html here</p>",
		"",
	}, "\r\n"))

	body := Sanitize(raw)

	if !strings.Contains(body.PlainText, "only html here") {
		t.Errorf("expected html converted to text, got %q", body.PlainText)
	}
}

func TestSanitizeDetectsAttachments(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: a@example.com",
		"Content-Type: multipart/mixed; boundary=XYZ",
		"",
		"--XYZ",
		"Content-Type: text/plain",
		"",
		"body text",
		"--XYZ",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"%PDF-1.4 fake content",
		"--XYZ--",
		"",
	}, "\r\n"))

	body := Sanitize(raw)

	if !body.HasAttachments {
		t.Fatal("expected HasAttachments to be true")
	}
	if len(body.Attachments) != 1 || body.Attachments[0].Filename != "report.pdf" {
		t.Fatalf("unexpected attachments: %+v", body.Attachments)
	}
}

func TestSanitizeNeverFailsOnGarbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("not an email at all, just bytes \x00\x01\x02"),
		[]byte("Content-Type: multipart/mixed; boundary=\r\n\r\nbroken"),
	}
	for _, raw := range inputs {
		body := Sanitize(raw)
		if body.ContentHash == "" {
			t.Errorf("expected a content hash even for garbage input %q", raw)
		}
	}
}

func TestSanitizeIsDeterministic(t *testing.T) {
	raw := []byte("Content-Type: text/plain\r\n\r\nsame every time\r\n")
	a := Sanitize(raw)
	b := Sanitize(raw)
	if a.PlainText != b.PlainText || a.ContentHash != b.ContentHash {
		t.Error("expected identical output for identical input")
	}
}

func TestSanitizeStripsScriptFromHTMLBody(t *testing.T) {
	raw := []byte(strings.Join([]string{
		"From: a@example.com",
		"Content-Type: text/html",
		"",
		`<p onclick="evil()">hi</p><script>alert(1)</script>`,
		"",
	}, "\r\n"))

	body := Sanitize(raw)

	if strings.Contains(body.PlainText, "alert(1)") || strings.Contains(body.PlainText, "evil()") {
		t.Errorf("expected script/event-handler content stripped, got %q", body.PlainText)
	}
	if !strings.Contains(body.PlainText, "hi") {
		t.Errorf("expected the legitimate text to survive, got %q", body.PlainText)
	}
}

func TestCleanURLStripsTrackingParams(t *testing.T) {
	got := CleanURL("https://example.com/path?utm_source=newsletter&id=42")
	if strings.Contains(got, "utm_source") {
		t.Errorf("expected utm_source stripped, got %s", got)
	}
	if !strings.Contains(got, "id=42") {
		t.Errorf("expected unrelated params preserved, got %s", got)
	}
}

func TestCleanURLLeavesMalformedURLsAlone(t *testing.T) {
	raw := "not a url at all"
	if got := CleanURL(raw); got != raw {
		t.Errorf("expected malformed input unchanged, got %s", got)
	}
}

func TestWrapLineRespectsWidth(t *testing.T) {
	long := strings.Repeat("word ", 30)
	wrapped := wrapLine(long, wrapColumn)
	for _, line := range strings.Split(wrapped, "\n") {
		if len(line) > wrapColumn {
			t.Errorf("line exceeds %d columns: %q (%d)", wrapColumn, line, len(line))
		}
	}
}
