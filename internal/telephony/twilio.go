package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioAPIBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// APIBaseURL is overridable for tests.
	APIBaseURL string

	HTTPClient *http.Client
}

// TwilioProvider places calls with the Twilio REST API. It avoids the Twilio
// SDK; the surface we need is one form POST.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	var problems []string
	if strings.TrimSpace(cfg.AccountSID) == "" {
		problems = append(problems, "account sid required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		problems = append(problems, "auth token required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		problems = append(problems, "from number required")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("telephony: twilio config: %s", strings.Join(problems, ", "))
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultTwilioAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioProvider{cfg: cfg, client: client}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PlaceCall creates the call and subscribes the status callback to every
// progress event.
func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.AnswerURL) == "" {
		return PlaceCallResult{}, errors.New("telephony: to and answer_url are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Url", req.AnswerURL)
	form.Set("Method", http.MethodPost)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.cfg.APIBaseURL, url.PathEscape(p.cfg.AccountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: build request: %v", ErrProviderInvocation, err)
	}
	httpReq.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: %v", ErrProviderInvocation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: read response: %v", ErrProviderInvocation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var te twilioError
		_ = json.Unmarshal(body, &te)
		if te.Message == "" {
			te.Message = http.StatusText(resp.StatusCode)
		}
		return PlaceCallResult{}, fmt.Errorf("%w: twilio status %d (code %d): %s", ErrProviderInvocation, resp.StatusCode, te.Code, te.Message)
	}

	var call twilioCall
	if err := json.Unmarshal(body, &call); err != nil {
		return PlaceCallResult{}, fmt.Errorf("%w: decode response: %v", ErrProviderInvocation, err)
	}
	if call.SID == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: twilio response missing call sid", ErrProviderInvocation)
	}
	return PlaceCallResult{ProviderCallID: call.SID, Status: call.Status}, nil
}
