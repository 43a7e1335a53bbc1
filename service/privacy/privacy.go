package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b`)
)

const anonymizedLen = 16

// Service masks PII in message bodies and hides raw client ids.
type Service struct{}

func New() *Service { return &Service{} }

// Sanitize replaces e-mail addresses and US style phone numbers with placeholders.
func (s *Service) Sanitize(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = phonePattern.ReplaceAllString(text, "[PHONE]")
	return text
}

// Anonymize returns a stable one-way token for a client id.
func (s *Service) Anonymize(clientID string) string {
	sum := sha256.Sum256([]byte(clientID))
	return hex.EncodeToString(sum[:])[:anonymizedLen]
}
