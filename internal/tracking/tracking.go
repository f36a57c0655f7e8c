// Package tracking rewrites outbound content so that opens and link clicks
// reach the tracking endpoint.
package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/repository"
)

var (
	hrefPattern      = regexp.MustCompile(`href="([^"]+)"`)
	bodyClosePattern = regexp.MustCompile(`(?i)</body>`)
)

// Store is the part of the tracking store the instrumenter writes to
type Store interface {
	RegisterSend(ctx context.Context, recipient, templateID, campaignID string, metadata map[string]string) (string, error)
	MintBeaconToken(ctx context.Context, messageID string) (string, error)
}

// Instrumenter registers sends and instruments message bodies
type Instrumenter struct {
	store  Store
	domain string
}

// NewInstrumenter creates an instrumenter that points at the given tracking domain
func NewInstrumenter(store Store, domain string) *Instrumenter {
	return &Instrumenter{store: store, domain: strings.TrimSuffix(domain, "/")}
}

// Domain returns the tracking domain
func (i *Instrumenter) Domain() string {
	return i.domain
}

// RegisterSend records a message about to be sent and returns its id
func (i *Instrumenter) RegisterSend(ctx context.Context, recipient, templateID, campaignID string, metadata map[string]string) (string, error) {
	return i.store.RegisterSend(ctx, recipient, templateID, campaignID, metadata)
}

// Tag returns the integrity tag of a tracked link
func Tag(messageID, target string) string {
	sum := sha256.Sum256([]byte(messageID + ":" + target))
	return hex.EncodeToString(sum[:])[:12]
}

// ClickURL builds the tracking redirect for a link in a message
func (i *Instrumenter) ClickURL(messageID, target string) string {
	params := url.Values{}
	params.Set("eid", messageID)
	params.Set("tid", Tag(messageID, target))
	params.Set("url", target)
	return fmt.Sprintf("https://%s/click?%s", i.domain, params.Encode())
}

// InstrumentLinks rewrites every href="..." in body to a tracking redirect.
// Attribute values are unescaped first so that &amp; reaches the target as &.
func (i *Instrumenter) InstrumentLinks(body, messageID string) string {
	return hrefPattern.ReplaceAllStringFunc(body, func(m string) string {
		target := html.UnescapeString(hrefPattern.FindStringSubmatch(m)[1])
		return `href="` + i.ClickURL(messageID, target) + `"`
	})
}

// ClickTarget is a decoded tracking redirect
type ClickTarget struct {
	MessageID string
	URL       string
	Tag       string
	// Verified is advisory: the tag is a truncated hash, not a MAC.
	Verified bool
}

// DecodeClick parses a tracking redirect URL or its raw query string
func DecodeClick(raw string) (ClickTarget, error) {
	query := raw
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		query = raw[idx+1:]
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return ClickTarget{}, fmt.Errorf("failed to parse click url: %w", err)
	}
	return DecodeClickValues(values)
}

// DecodeClickValues reads a tracking redirect from parsed query parameters
func DecodeClickValues(values url.Values) (ClickTarget, error) {
	target := ClickTarget{
		MessageID: values.Get("eid"),
		URL:       values.Get("url"),
		Tag:       values.Get("tid"),
	}
	if target.MessageID == "" || target.URL == "" {
		return target, errors.New("click url is missing eid or url")
	}
	target.Verified = target.Tag != "" && target.Tag == Tag(target.MessageID, target.URL)
	return target, nil
}

// BeaconFragment is the invisible image that reports an open
func (i *Instrumenter) BeaconFragment(token string) string {
	return fmt.Sprintf(`<img src="https://%s/pixel/%s" width="1" height="1" alt="" style="display:none;" />`, i.domain, token)
}

// InstrumentBeacon mints a beacon token for the message and returns it with
// its image fragment
func (i *Instrumenter) InstrumentBeacon(ctx context.Context, messageID string) (string, string, error) {
	token, err := i.store.MintBeaconToken(ctx, messageID)

	var dup *repository.DuplicateTokenError
	if errors.As(err, &dup) {
		logrus.WithField("message_id", messageID).Warn("Beacon token collision, retrying")
		token, err = i.store.MintBeaconToken(ctx, messageID)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to generate tracking pixel: %w", err)
	}

	return token, i.BeaconFragment(token), nil
}

// Instrument rewrites links and, for HTML bodies, adds the open beacon
func (i *Instrumenter) Instrument(ctx context.Context, body string, isHTML bool, messageID string) (string, error) {
	body = i.InstrumentLinks(body, messageID)
	if !isHTML {
		return body, nil
	}

	_, fragment, err := i.InstrumentBeacon(ctx, messageID)
	if err != nil {
		return "", err
	}

	closes := bodyClosePattern.FindAllStringIndex(body, -1)
	if len(closes) == 0 {
		return body + fragment, nil
	}
	idx := closes[len(closes)-1][0]
	return body[:idx] + fragment + body[idx:], nil
}
