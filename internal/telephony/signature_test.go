package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestValidateSignature(t *testing.T) {
	params := url.Values{}
	params.Set("CallSid", "CA123")
	params.Set("SpeechResult", "yes")
	params.Set("Confidence", "0.93")
	u := "https://calls.example.com/webhooks/twilio/voice?job_id=j1&seq=2&step=capture_intent"

	sig := ComputeSignature("secret", u, params)
	if !ValidateSignature("secret", u, params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidateSignature("other", u, params, sig) {
		t.Fatalf("expected token mismatch to fail")
	}
	params.Set("SpeechResult", "no")
	if ValidateSignature("secret", u, params, sig) {
		t.Fatalf("expected tampered params to fail")
	}
	if ValidateSignature("secret", u, params, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestSignatureMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", SignatureMiddleware("secret", "https://calls.example.com"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "ringing")
	path := "/webhooks/twilio/status?job_id=j1"

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", sig)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	good := ComputeSignature("secret", "https://calls.example.com"+path, form)
	if code := send(good); code != http.StatusNoContent {
		t.Fatalf("expected 204 with valid signature, got %d", code)
	}
	if code := send("bogus"); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}
