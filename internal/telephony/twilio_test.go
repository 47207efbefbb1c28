package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTwilioProviderPlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("To") != "+447700900123" || r.PostForm.Get("From") != "+441234567890" {
			t.Errorf("unexpected to/from: %v", r.PostForm)
		}
		if r.PostForm.Get("Url") != "https://calls.example.com/webhooks/twilio/voice?job_id=j1" {
			t.Errorf("unexpected answer url %q", r.PostForm.Get("Url"))
		}
		if got := r.PostForm["StatusCallbackEvent"]; len(got) != 4 {
			t.Errorf("expected 4 status callback events, got %v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	}))
	defer srv.Close()

	p, err := NewTwilioProvider(TwilioConfig{AccountSID: "AC123", AuthToken: "token", FromNumber: "+441234567890", APIBaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	res, err := p.PlaceCall(context.Background(), PlaceCallRequest{
		JobID:             "j1",
		To:                "+447700900123",
		AnswerURL:         AnswerURL("https://calls.example.com", "j1"),
		StatusCallbackURL: StatusCallbackURL("https://calls.example.com", "j1"),
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if res.ProviderCallID != "CA999" || res.Status != "queued" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTwilioProviderPlaceCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	p, err := NewTwilioProvider(TwilioConfig{AccountSID: "AC123", AuthToken: "token", FromNumber: "+441234567890", APIBaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.PlaceCall(context.Background(), PlaceCallRequest{To: "+1", AnswerURL: "https://calls.example.com/x"})
	if !errors.Is(err, ErrProviderInvocation) {
		t.Fatalf("expected ErrProviderInvocation, got %v", err)
	}
}

func TestTwilioProviderPlaceCallUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p, err := NewTwilioProvider(TwilioConfig{AccountSID: "AC123", AuthToken: "token", FromNumber: "+441234567890", APIBaseURL: base})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.PlaceCall(context.Background(), PlaceCallRequest{To: "+447700900123", AnswerURL: "https://calls.example.com/x"})
	if !errors.Is(err, ErrProviderInvocation) {
		t.Fatalf("expected ErrProviderInvocation, got %v", err)
	}
}

func TestNewTwilioProviderValidates(t *testing.T) {
	if _, err := NewTwilioProvider(TwilioConfig{}); err == nil {
		t.Fatalf("expected config error")
	}
}
