package metrics

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
)

const maxOrder = 4

// Translator is the slice of the gateway the quality run needs.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) string
}

// QualityCase is one source sentence, optionally with a reference translation.
type QualityCase struct {
	Text       string `json:"source_text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Reference  string `json:"reference,omitempty"`
}

type CaseResult struct {
	QualityCase
	Translation string   `json:"translation"`
	LatencyMs   float64  `json:"latency_ms"`
	BLEU        *float64 `json:"bleu,omitempty"`
}

type QualityReport struct {
	Cases      []CaseResult `json:"cases"`
	BLEUScores []float64    `json:"bleu_scores"`
	Latencies  []float64    `json:"latencies"`
	AvgLatency float64      `json:"avg_latency"`
	P95Latency float64      `json:"p95_latency"`
	AvgBLEU    float64      `json:"avg_bleu"`
	CorpusBLEU float64      `json:"corpus_bleu"`
}

// DefaultQualityCases is the built-in smoke set.
var DefaultQualityCases = []QualityCase{
	{Text: "Hello, how are you?", SourceLang: "eng_Latn", TargetLang: "spa_Latn", Reference: "Hola, ¿cómo estás?"},
	{Text: "hello", SourceLang: "eng_Latn", TargetLang: "spa_Latn", Reference: "hola"},
	{Text: "thank you", SourceLang: "eng_Latn", TargetLang: "fra_Latn", Reference: "merci"},
	{Text: "goodbye", SourceLang: "eng_Latn", TargetLang: "deu_Latn", Reference: "auf wiedersehen"},
}

// Evaluate runs every case through tr in order. Latencies are recorded into
// the evaluator's history like live translations. Cases with a reference get
// a sentence BLEU; all of them together give the corpus BLEU.
func (e *Evaluator) Evaluate(ctx context.Context, tr Translator, cases []QualityCase) QualityReport {
	rep := QualityReport{
		Cases:      make([]CaseResult, 0, len(cases)),
		BLEUScores: []float64{},
		Latencies:  []float64{},
	}
	var corpus bleuStats
	for _, qc := range cases {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		out := tr.Translate(ctx, qc.Text, qc.SourceLang, qc.TargetLang)
		took := time.Since(start)
		e.Record(took)

		res := CaseResult{QualityCase: qc, Translation: out, LatencyMs: float64(took.Microseconds()) / 1000}
		if qc.Reference != "" {
			score := SentenceBLEU(out, qc.Reference)
			res.BLEU = &score
			rep.BLEUScores = append(rep.BLEUScores, score)
			corpus.add(out, qc.Reference)
		}
		rep.Cases = append(rep.Cases, res)
		rep.Latencies = append(rep.Latencies, res.LatencyMs)
	}
	rep.AvgLatency = mean(rep.Latencies)
	rep.P95Latency = p95(rep.Latencies)
	rep.AvgBLEU = mean(rep.BLEUScores)
	rep.CorpusBLEU = corpus.score(false)
	return rep
}

// SentenceBLEU scores one hypothesis on a 0-100 scale. Orders longer than the
// hypothesis are left out so short chat lines still get a usable score.
func SentenceBLEU(hypothesis, reference string) float64 {
	var s bleuStats
	s.add(hypothesis, reference)
	return s.score(true)
}

// CorpusBLEU pools n-gram counts over all pairs before scoring.
func CorpusBLEU(hypotheses, references []string) float64 {
	var s bleuStats
	for i := range hypotheses {
		if i < len(references) {
			s.add(hypotheses[i], references[i])
		}
	}
	return s.score(false)
}

type bleuStats struct {
	hypLen, refLen int
	correct        [maxOrder]int
	total          [maxOrder]int
}

func (s *bleuStats) add(hypothesis, reference string) {
	hyp, ref := tokenize(hypothesis), tokenize(reference)
	s.hypLen += len(hyp)
	s.refLen += len(ref)
	for n := 1; n <= maxOrder; n++ {
		refGrams := ngrams(ref, n)
		for g, c := range ngrams(hyp, n) {
			s.total[n-1] += c
			s.correct[n-1] += min(c, refGrams[g])
		}
	}
}

// score uses exponential smoothing for orders with no match: each such
// order counts as 1/(2^k * total).
func (s *bleuStats) score(effectiveOrder bool) float64 {
	if s.hypLen == 0 {
		return 0
	}
	order := maxOrder
	smooth := 1.0
	var logSum float64
	for n := 0; n < maxOrder; n++ {
		if s.total[n] == 0 {
			if !effectiveOrder {
				return 0
			}
			order = n
			break
		}
		p := float64(s.correct[n]) / float64(s.total[n])
		if s.correct[n] == 0 {
			smooth *= 2
			p = 1 / (smooth * float64(s.total[n]))
		}
		logSum += math.Log(p)
	}
	bp := 1.0
	if s.hypLen < s.refLen {
		bp = math.Exp(1 - float64(s.refLen)/float64(s.hypLen))
	}
	return 100 * bp * math.Exp(logSum/float64(order))
}

func ngrams(tokens []string, n int) map[string]int {
	out := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		out[strings.Join(tokens[i:i+n], " ")]++
	}
	return out
}

// tokenize splits on whitespace and puts punctuation in its own token,
// except for separators inside numbers.
func tokenize(s string) []string {
	rs := []rune(s)
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range rs {
		switch {
		case unicode.IsSpace(r):
			flush()
		case (r == '.' || r == ',') && i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]):
			cur = append(cur, r)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return out
}
