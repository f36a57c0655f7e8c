// Package message composes outbound campaign emails as RFC 5322 messages.
package message

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/gabriel-vasile/mimetype"
)

// Headers carried by every campaign message
const (
	HeaderCampaignID = "X-Campaign-ID"
	HeaderEmailID    = "X-Email-ID"
)

// Attachment is a file attached to a message
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a fully personalized email ready for a transport
type Message struct {
	FromName    string
	From        string
	To          string
	ReplyTo     string
	Subject     string
	Body        string
	IsHTML      bool
	Headers     map[string]string
	Attachments []Attachment
	Date        time.Time
}

// LoadAttachment reads a file and detects its content type
func LoadAttachment(path string) (Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	return Attachment{
		Filename:    filepath.Base(path),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}

// LoadAttachments reads every path in order
func LoadAttachments(paths []string) ([]Attachment, error) {
	attachments := make([]Attachment, 0, len(paths))
	for _, path := range paths {
		a, err := LoadAttachment(path)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, nil
}

// ContentType returns the MIME type of the body
func (m *Message) ContentType() string {
	if m.IsHTML {
		return "text/html"
	}
	return "text/plain"
}

func (m *Message) header() (mail.Header, error) {
	var h mail.Header

	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	if m.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: m.ReplyTo}})
	}
	h.SetSubject(m.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return h, fmt.Errorf("failed to generate message id: %w", err)
	}

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Set(k, m.Headers[k])
	}
	return h, nil
}

// Render writes the message in wire format
func (m *Message) Render(w io.Writer) error {
	h, err := m.header()
	if err != nil {
		return err
	}

	var body mail.InlineHeader
	body.SetContentType(m.ContentType(), map[string]string{"charset": "utf-8"})

	if len(m.Attachments) == 0 {
		h.SetContentType(m.ContentType(), map[string]string{"charset": "utf-8"})
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		bw, err := mail.CreateSingleInlineWriter(w, h)
		if err != nil {
			return fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(bw, m.Body); err != nil {
			return fmt.Errorf("failed to write message body: %w", err)
		}
		return bw.Close()
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create inline part: %w", err)
	}
	pw, err := iw.CreatePart(body)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(pw, m.Body); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}

	for _, a := range m.Attachments {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", a.ContentType)
		ah.SetFilename(a.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return fmt.Errorf("failed to create attachment %s: %w", a.Filename, err)
		}
		if _, err := aw.Write(a.Data); err != nil {
			return fmt.Errorf("failed to write attachment %s: %w", a.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}

	return mw.Close()
}

// Bytes renders the message into memory
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
