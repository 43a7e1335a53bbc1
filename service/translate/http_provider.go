package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PRelay/tools/errs"

	"github.com/go-resty/resty/v2"
)

// HTTPProvider talks to a remote inference server exposing
// GET /health and POST /translate {text, source_lang, target_lang} -> {translation}.
type HTTPProvider struct {
	endpoint string
	client   *resty.Client
}

// NewHTTPProvider builds a provider for endpoint. timeout caps each request;
// zero leaves it to the caller's context.
func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	endpoint = strings.TrimRight(endpoint, "/")
	client := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPProvider{endpoint: endpoint, client: client}
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error,omitempty"`
}

// Load blocks until the server reports healthy; the first call is what makes
// a lazily loading server pull its model into memory.
func (p *HTTPProvider) Load(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return errs.ErrProviderInit.WrapMsg(err.Error(), "endpoint", p.endpoint)
	}
	if !resp.IsSuccess() {
		return errs.ErrProviderInit.WrapMsg("unhealthy", "endpoint", p.endpoint, "status", resp.StatusCode())
	}
	return nil
}

func (p *HTTPProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(translateRequest{Text: text, SourceLang: sourceLang, TargetLang: targetLang}).
		Post("/translate")
	if err != nil {
		return "", errs.WrapMsg(err, "translate request", "endpoint", p.endpoint)
	}

	// inference servers do not always label their replies, so decode by hand
	var out translateResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", errs.WrapMsg(err, "decode translate response", "status", resp.StatusCode())
	}
	if !resp.IsSuccess() || out.Error != "" {
		return "", errs.ErrNoTranslation.WrapMsg(fmt.Sprintf("status %d: %s", resp.StatusCode(), out.Error))
	}
	return out.Translation, nil
}
