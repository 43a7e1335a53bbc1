package translate

import (
	"context"
	"strings"
	"time"

	"PRelay/tools/errs"
)

// greetingMappings keeps short social phrases literal; general models tend to
// paraphrase them.
var greetingMappings = map[string]map[string]map[string]string{
	"eng_Latn": {
		"hello":     {"spa_Latn": "hola", "fra_Latn": "bonjour", "deu_Latn": "hallo", "ita_Latn": "ciao"},
		"hi":        {"spa_Latn": "hola", "fra_Latn": "salut", "deu_Latn": "hallo", "ita_Latn": "ciao"},
		"bye":       {"spa_Latn": "adiós", "fra_Latn": "au revoir", "deu_Latn": "auf wiedersehen", "ita_Latn": "ciao"},
		"goodbye":   {"spa_Latn": "adiós", "fra_Latn": "au revoir", "deu_Latn": "auf wiedersehen", "ita_Latn": "arrivederci"},
		"thanks":    {"spa_Latn": "gracias", "fra_Latn": "merci", "deu_Latn": "danke", "ita_Latn": "grazie"},
		"thank you": {"spa_Latn": "gracias", "fra_Latn": "merci", "deu_Latn": "danke", "ita_Latn": "grazie"},
	},
}

// Phrasebook answers from the fixed greeting table and delegates everything
// else to next. With no next provider it is a self-contained offline backend
// whose Load simulates a model cold start of warmup.
type Phrasebook struct {
	next   Provider
	warmup time.Duration
}

func NewPhrasebook(next Provider, warmup time.Duration) *Phrasebook {
	return &Phrasebook{next: next, warmup: warmup}
}

func (p *Phrasebook) Load(ctx context.Context) error {
	if p.warmup > 0 {
		t := time.NewTimer(p.warmup)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if p.next != nil {
		return p.next.Load(ctx)
	}
	return nil
}

func (p *Phrasebook) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if out, ok := Lookup(text, sourceLang, targetLang); ok {
		return out, nil
	}
	if p.next != nil {
		return p.next.Translate(ctx, text, sourceLang, targetLang)
	}
	return "", errs.ErrNoTranslation.WrapMsg("no phrasebook entry", "source", sourceLang, "target", targetLang)
}

// Lookup consults the greeting table.
func Lookup(text, sourceLang, targetLang string) (string, bool) {
	phrases, ok := greetingMappings[sourceLang]
	if !ok {
		return "", false
	}
	targets, ok := phrases[strings.ToLower(strings.TrimSpace(text))]
	if !ok {
		return "", false
	}
	out, ok := targets[targetLang]
	return out, ok
}
