package transport

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Compose renders msg as an RFC 5322 message
func Compose(msg Message) ([]byte, error) {
	var h mail.Header
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: msg.FromName, Address: msg.FromEmail}})
	h.SetAddressList("To", []*mail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)
	if msg.MessageID != "" {
		h.SetMessageID(strings.Trim(msg.MessageID, "<>"))
	}

	text := msg.Text
	if text == "" && msg.HTML != "" {
		text = plainText(msg.HTML)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline part: %w", err)
	}
	if err := writeInline(iw, "text/plain", text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writeInline(iw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline part: %w", err)
	}

	for _, path := range msg.Attachments {
		if err := writeAttachment(mw, path); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(iw *mail.InlineWriter, contentType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.SetFilename(name)
	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return w.Close()
}

// plainText strips markup from an HTML body for the text alternative
func plainText(html string) string {
	text := html
	for _, tag := range []string{"<br>", "<br/>", "<br />", "<p>", "</p>", "<div>", "</div>"} {
		text = strings.ReplaceAll(text, tag, "\n")
	}
	text = tagPattern.ReplaceAllString(text, "")

	// single pass, so "&amp;lt;" decodes to "&lt;"
	entities := strings.NewReplacer("&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&amp;", "&")
	return strings.TrimSpace(entities.Replace(text))
}
