package translate

import "context"

// Provider is the translation backend. Load is called once before the first
// Translate and may take seconds; Translate must honor ctx cancellation.
type Provider interface {
	Load(ctx context.Context) error
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
