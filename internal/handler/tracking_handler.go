package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/tracking"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Pixel records an open and always serves the tracking image
func (h *Handlers) Pixel(c *gin.Context) {
	token := c.Param("token")
	if h.store.RecordOpen(c.Request.Context(), token, c.Request.UserAgent(), c.ClientIP()) && h.metrics != nil {
		h.metrics.Opens.Inc()
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/gif", pixelGIF)
}

// Click records a tracked-link hit and redirects to the original URL
func (h *Handlers) Click(c *gin.Context) {
	target, err := tracking.DecodeClickValues(c.Request.URL.Query())
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_click", "Missing message id or url")
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"message_id": target.MessageID,
		"verified":   target.Verified,
	})
	if !target.Verified {
		log.Warn("Click tag does not match its url")
	}

	if err := h.store.RecordClick(c.Request.Context(), target.MessageID, target.URL, c.Request.UserAgent(), c.ClientIP()); err != nil {
		log.Warnf("Failed to record click: %v", err)
	} else if h.metrics != nil {
		h.metrics.Clicks.Inc()
	}

	if !redirectable(target.URL, target.Verified) {
		errorJSON(c, http.StatusBadRequest, "invalid_url", "Click target cannot be redirected to")
		return
	}
	c.Redirect(http.StatusFound, target.URL)
}

// redirectable accepts any verified link from our own content (mailto:, tel:,
// anchors) except script schemes. Unverified targets must be absolute http(s).
func redirectable(raw string, verified bool) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if verified {
		return scheme != "javascript" && scheme != "vbscript" && scheme != "data"
	}
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
