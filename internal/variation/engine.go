package variation

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
)

// Config controls the randomized rewriting applied to outbound text.
// All probabilities are in [0,1]; zero disables the corresponding step.
type Config struct {
	// PoolProbability is the chance to use a pre-authored variation from the
	// campaign's pool instead of the base template.
	PoolProbability float64
	// PunctProbability is the chance to swap the trailing punctuation.
	PunctProbability float64
	// EmojiProbability is the chance to add an emoji prefix/suffix when the
	// text contains none.
	EmojiProbability float64
	// LineBreakProbability is the chance to turn one sentence boundary into
	// a line break.
	LineBreakProbability float64

	// Synonyms maps a phrase to its interchangeable alternatives. When the
	// phrase occurs (case-insensitive, word-boundary) it is replaced by a
	// uniformly chosen synonym.
	Synonyms map[string][]string

	Emojis []string
}

func DefaultConfig() Config {
	return Config{
		PoolProbability:      0.5,
		PunctProbability:     0.25,
		EmojiProbability:     0.15,
		LineBreakProbability: 0.2,
		Synonyms: map[string][]string{
			"hello": {"hi", "hey", "hello"},
			"offer": {"offer", "deal", "promotion"},
			"news":  {"news", "updates"},
		},
		Emojis: []string{"🙂", "👋", "✨", "🙌"},
	}
}

// Fields are the recipient values substituted into placeholders.
// Missing fields substitute the empty string.
type Fields struct {
	Name    string
	Company string
	Phone   string
	Email   string
}

type synonymRule struct {
	re      *regexp.Regexp
	choices []string
}

// Engine renders per-recipient message text: deterministic placeholder
// substitution plus seeded-random perturbation, so a mass send does not
// produce byte-identical messages.
//
// The random source is injected to keep pacing and variation reproducible
// in tests. Engine is safe for concurrent use.
type Engine struct {
	cfg   Config
	rules []synonymRule

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	e := &Engine{cfg: cfg, rng: rng}
	for phrase, choices := range cfg.Synonyms {
		if strings.TrimSpace(phrase) == "" || len(choices) == 0 {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
		e.rules = append(e.rules, synonymRule{re: re, choices: choices})
	}
	return e
}

// Render produces the final text for one recipient.
func (e *Engine) Render(template string, pool []string, f Fields) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	text := template
	if len(pool) > 0 && e.chance(e.cfg.PoolProbability) {
		text = pool[e.rng.Intn(len(pool))]
	}

	text = Substitute(text, f)

	for _, r := range e.rules {
		if r.re.MatchString(text) {
			text = r.re.ReplaceAllString(text, r.choices[e.rng.Intn(len(r.choices))])
		}
	}

	text = e.perturbPunctuation(text)
	text = e.maybeEmoji(text)
	text = e.maybeLineBreak(text)
	return text
}

// Substitute applies placeholder substitution only. It is fully
// deterministic: the same template and fields always give the same text.
func Substitute(text string, f Fields) string {
	first := f.Name
	if i := strings.IndexByte(first, ' '); i >= 0 {
		first = first[:i]
	}
	r := strings.NewReplacer(
		"{name}", f.Name,
		"{first_name}", first,
		"{company}", f.Company,
		"{phone}", f.Phone,
		"{email}", f.Email,
	)
	return r.Replace(text)
}

func (e *Engine) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return e.rng.Float64() < p
}

func (e *Engine) perturbPunctuation(text string) string {
	if !e.chance(e.cfg.PunctProbability) {
		return text
	}
	trimmed := strings.TrimRight(text, " ")
	if trimmed == "" {
		return text
	}
	switch trimmed[len(trimmed)-1] {
	case '.':
		return trimmed[:len(trimmed)-1] + "!"
	case '!':
		return trimmed[:len(trimmed)-1] + "."
	default:
		return trimmed + "."
	}
}

func (e *Engine) maybeEmoji(text string) string {
	if len(e.cfg.Emojis) == 0 || containsEmoji(text) || !e.chance(e.cfg.EmojiProbability) {
		return text
	}
	emoji := e.cfg.Emojis[e.rng.Intn(len(e.cfg.Emojis))]
	if e.rng.Intn(2) == 0 {
		return emoji + " " + text
	}
	return text + " " + emoji
}

func (e *Engine) maybeLineBreak(text string) string {
	if !e.chance(e.cfg.LineBreakProbability) {
		return text
	}
	// Turn the first sentence boundary into a line break.
	if i := strings.Index(text, ". "); i >= 0 && i+2 < len(text) {
		return text[:i+1] + "\n" + text[i+2:]
	}
	return text
}

func containsEmoji(s string) bool {
	for _, r := range s {
		if (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF) {
			return true
		}
	}
	return false
}
