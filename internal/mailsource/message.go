package mailsource

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/encoding/htmlindex"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/sells-group/sub-zapper/internal/model"
)

const (
	defaultSubject = "No Subject"
	defaultSender  = "Unknown Sender"
)

var bracketedURLRe = regexp.MustCompile(`<(https?://[^>]+)>`)

// linkPolicy drops markup except anchors so unsubscribe links in HTML
// bodies survive while scripts, styles and layout are removed.
var linkPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	return p
}()

func toEmailRecord(msg *gmail.Message) model.EmailRecord {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	rec := model.EmailRecord{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Subject:  headerOr(headers, "Subject", defaultSubject),
		From:     headerOr(headers, "From", defaultSender),
		To:       header(headers, "To"),
		Date:     header(headers, "Date"),
		LabelIDs: msg.LabelIds,
		FullBody: extractBody(msg.Payload),
	}
	for _, h := range headers {
		name := strings.ToLower(h.Name)
		if name == "list-unsubscribe" || name == "list-unsubscribe-post" {
			rec.UnsubscribeURL = parseUnsubscribe(h.Value)
			break
		}
	}
	return rec
}

func header(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func headerOr(headers []*gmail.MessagePartHeader, name, fallback string) string {
	if v := header(headers, name); v != "" {
		return v
	}
	return fallback
}

// parseUnsubscribe picks a web URL out of a List-Unsubscribe value. It prefers
// a bracketed http(s) URL, then a bare URL, and otherwise returns the raw value.
func parseUnsubscribe(value string) string {
	if m := bracketedURLRe.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "http") {
		return trimmed
	}
	return value
}

// extractBody concatenates the payload body and every text/plain or
// text/html part at any depth.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	var b strings.Builder
	if payload.Body != nil && payload.Body.Data != "" {
		b.WriteString(decodePart(payload))
	}
	walkParts(payload.Parts, func(part *gmail.MessagePart) {
		if part.Body == nil || part.Body.Data == "" {
			return
		}
		switch mediaType(part) {
		case "text/plain", "text/html":
			b.WriteString(decodePart(part))
		}
	})
	return b.String()
}

func walkParts(parts []*gmail.MessagePart, fn func(*gmail.MessagePart)) {
	for _, p := range parts {
		if p == nil {
			continue
		}
		fn(p)
		walkParts(p.Parts, fn)
	}
}

func mediaType(part *gmail.MessagePart) string {
	if ct := header(part.Headers, "Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			return mt
		}
	}
	return strings.ToLower(part.MimeType)
}

func decodePart(part *gmail.MessagePart) string {
	raw, ok := decodeBase64(part.Body.Data)
	if !ok {
		return ""
	}
	text := toUTF8(raw, charset(part))
	if mediaType(part) == "text/html" {
		text = linkPolicy.Sanitize(text)
	}
	return text
}

// decodeBase64 accepts the URL-safe alphabet Gmail uses, with or without
// padding, and falls back to the standard alphabet.
func decodeBase64(data string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if out, err := enc.DecodeString(data); err == nil {
			return out, true
		}
	}
	return nil, false
}

func charset(part *gmail.MessagePart) string {
	ct := header(part.Headers, "Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func toUTF8(raw []byte, cs string) string {
	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs == "" || cs == "utf-8" || cs == "us-ascii" {
		return string(raw)
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return string(raw)
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		return string(raw)
	}
	return string(out)
}
