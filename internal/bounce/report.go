// Package bounce ingests delivery status notifications from an IMAP mailbox
// and records them against the sent messages they refer to.
package bounce

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// Bounce types
const (
	TypeHard    = "hard"
	TypeSoft    = "soft"
	TypeUnknown = "unknown"
)

// ErrNoMessageID is returned for reports that do not reference a tracked message
var ErrNoMessageID = errors.New("bounce report does not reference a tracked message")

const maxPartSize = 1 << 20

var emailIDPattern = regexp.MustCompile(`(?im)^X-Email-ID:[ \t]*([^\s]+)`)

// Report is a parsed delivery status notification
type Report struct {
	MessageID   string
	Type        string
	Reason      string
	Description string
}

type deliveryStatus struct {
	status     string
	action     string
	diagnostic string
}

// ClassifyStatus maps an enhanced status code to a bounce type
func ClassifyStatus(status string) string {
	switch {
	case strings.HasPrefix(status, "5."):
		return TypeHard
	case strings.HasPrefix(status, "4."):
		return TypeSoft
	default:
		return TypeUnknown
	}
}

// ParseReport extracts the tracked message id, bounce type and reason from a
// raw DSN message
func ParseReport(r io.Reader) (*Report, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	var (
		messageID string
		ds        deliveryStatus
	)

	walkErr := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil {
			return nil
		}
		contentType, _, _ := part.Header.ContentType()
		contentType = strings.ToLower(contentType)
		if strings.HasPrefix(contentType, "multipart/") {
			return nil
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartSize))
		if err != nil {
			return nil
		}

		switch contentType {
		case "message/delivery-status":
			ds = parseDeliveryStatus(body)
		case "message/rfc822", "text/rfc822-headers", "message/rfc822-headers":
			if id := headerEmailID(body); id != "" {
				messageID = id
			}
		}

		if messageID == "" {
			if m := emailIDPattern.FindSubmatch(body); m != nil {
				messageID = string(m[1])
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk message parts: %w", walkErr)
	}

	if messageID == "" {
		return nil, ErrNoMessageID
	}

	report := &Report{
		MessageID: messageID,
		Type:      ClassifyStatus(ds.status),
		Reason:    ds.diagnostic,
	}
	if report.Reason == "" && ds.status != "" {
		report.Reason = "status " + ds.status
	}

	var desc []string
	if ds.action != "" {
		desc = append(desc, "action "+ds.action)
	}
	if ds.status != "" {
		desc = append(desc, "status "+ds.status)
	}
	report.Description = strings.Join(desc, ", ")

	return report, nil
}

// headerEmailID reads the returned original headers
func headerEmailID(body []byte) string {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(body)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h.Get("X-Email-ID"))
}

// parseDeliveryStatus reads the per-recipient fields of a DSN. Only the first
// recipient block with a Status is used.
func parseDeliveryStatus(body []byte) deliveryStatus {
	var ds deliveryStatus

	r := bufio.NewReader(bytes.NewReader(body))
	for {
		if _, err := r.Peek(1); err != nil {
			break
		}
		h, err := textproto.ReadHeader(r)
		if status := strings.TrimSpace(h.Get("Status")); status != "" && ds.status == "" {
			ds.status = strings.Fields(status)[0]
			ds.action = strings.ToLower(strings.TrimSpace(h.Get("Action")))
			ds.diagnostic = diagnosticText(h.Get("Diagnostic-Code"))
		}
		if err != nil {
			break
		}
	}
	return ds
}

// diagnosticText drops the "smtp;" type prefix of a Diagnostic-Code
func diagnosticText(code string) string {
	code = strings.TrimSpace(code)
	if idx := strings.IndexByte(code, ';'); idx >= 0 {
		code = strings.TrimSpace(code[idx+1:])
	}
	return code
}
