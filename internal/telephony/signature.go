package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"outbound-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

var ErrInvalidSignature = errors.New("telephony: invalid webhook signature")

// ComputeSignature implements Twilio's request signing: HMAC-SHA1 over the
// full URL followed by every POST parameter name and value, sorted by name.
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyRequest checks X-Twilio-Signature. The signed URL is the public one
// Twilio called, so it is rebuilt from publicBaseURL rather than the Host header.
func VerifyRequest(r *http.Request, authToken, publicBaseURL string) error {
	if err := r.ParseForm(); err != nil {
		return ErrInvalidSignature
	}
	fullURL := strings.TrimRight(publicBaseURL, "/") + r.URL.RequestURI()
	if !ValidateSignature(authToken, fullURL, r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		return ErrInvalidSignature
	}
	return nil
}

// SignatureMiddleware rejects webhooks that Twilio did not sign.
func SignatureMiddleware(authToken, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := VerifyRequest(c.Request, authToken, publicBaseURL); err != nil {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
