package chat

import (
	"encoding/json"
	"strings"
	"time"

	"PRelay/tools/decode"
	"PRelay/tools/errs"
)

const (
	StatusLoadingModel = "loading_model"
	StatusLoaded       = "loaded"
	StatusLoadFailed   = "load_failed"
	StatusTranslating  = "translating"

	// SystemSender authors join/leave notices. Anonymized senders are hex
	// digests and can never collide with it.
	SystemSender = "System"
	// SystemLang is the language system notices are written in.
	SystemLang = "eng_Latn"
)

// StatusFrame signals a latency-inducing state ahead of a result.
type StatusFrame struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
}

// ResultFrame is one event rendered for one recipient.
type ResultFrame struct {
	Original   string  `json:"original"`
	Translated string  `json:"translated"`
	Sender     string  `json:"sender"`
	TargetLang string  `json:"target_lang"`
	LatencyMs  float64 `json:"latency_ms"`
	ID         string  `json:"id"`
	ClientRef  string  `json:"client_ref,omitempty"`
}

func statusFrame(status, content, sender string) StatusFrame {
	return StatusFrame{Type: "status", Status: status, Content: content, Sender: sender}
}

func latencyMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func encodeFrame(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode frame")
	}
	return b, nil
}

// InboundFrame is what a client sends. ClientRef is optional; clients that
// do optimistic rendering pass their own token so the echo can be reconciled.
type InboundFrame struct {
	Content   string
	ClientRef string
}

// ParseInbound reads {"content": "...", "id": "..."}. Anything that is not a
// JSON object with a string content is taken as raw text.
func ParseInbound(raw []byte) InboundFrame {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return InboundFrame{Content: strings.TrimSpace(string(raw))}
	}
	content, err := decode.ReadString(m, "content")
	if err != nil {
		return InboundFrame{Content: strings.TrimSpace(string(raw))}
	}
	ref, _ := decode.ReadString(m, "id")
	return InboundFrame{Content: strings.TrimSpace(content), ClientRef: ref}
}
