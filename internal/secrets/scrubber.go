// Package secrets redacts credentials from text that leaves finchat: store
// error messages (drivers echo connection strings), and anything else shown
// to a user or sent to the language model.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultRedaction replaces each detected secret.
const DefaultRedaction = "[REDACTED]"

// Rule is one detection pattern. When the pattern has a capture group only
// the first group is redacted, so "Password=hunter2" becomes
// "Password=[REDACTED]".
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords, when set, must appear (case-insensitive) before the
	// pattern is tried.
	Keywords []string
	Severity string
}

// Config configures a Scrubber.
type Config struct {
	Enabled   bool
	Rules     []Rule
	Redaction string
	// AllowList holds patterns for matches that are never redacted.
	AllowList []string
}

// DefaultConfig enables every DefaultRules rule.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Rules: DefaultRules(), Redaction: DefaultRedaction}
}

// Finding is one detected secret. The secret itself is never kept.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Result is the outcome of Scrub.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber redacts secrets.
type Scrubber interface {
	Scrub(content string) *Result
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

type scrubber struct {
	redaction string
	rules     []compiledRule
	allow     []*regexp.Regexp
}

// New compiles cfg. A nil cfg uses DefaultConfig; a disabled cfg returns a
// Scrubber that changes nothing.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}

	s := &scrubber{redaction: cfg.Redaction}
	if s.redaction == "" {
		s.redaction = DefaultRedaction
	}
	for i, r := range cfg.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{Rule: r, pattern: re, keywords: kws})
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	return s, nil
}

// MustNew is New that panics on an invalid config.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) *Result {
	res := &Result{Scrubbed: content, ByRule: map[string]int{}}
	lower := strings.ToLower(content)

	var spans []Finding
	for _, r := range s.rules {
		if !hasKeyword(lower, r.keywords) {
			continue
		}
		for _, m := range r.pattern.FindAllStringSubmatchIndex(content, -1) {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			if s.allowed(content[start:end]) {
				continue
			}
			spans = append(spans, Finding{RuleID: r.ID, Severity: r.Severity, Start: start, End: end})
			res.ByRule[r.ID]++
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	res.Findings = spans

	// Overlapping or adjacent matches collapse into one redaction.
	type span struct{ start, end int }
	merged := []span{{spans[0].Start, spans[0].End}}
	for _, f := range spans[1:] {
		last := &merged[len(merged)-1]
		if f.Start <= last.end {
			if f.End > last.end {
				last.end = f.End
			}
			continue
		}
		merged = append(merged, span{f.Start, f.End})
	}

	var b strings.Builder
	pos := 0
	for _, m := range merged {
		b.WriteString(content[pos:m.start])
		b.WriteString(s.redaction)
		pos = m.end
	}
	b.WriteString(content[pos:])
	res.Scrubbed = b.String()
	return res
}

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func hasKeyword(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Noop returns content unchanged.
type Noop struct{}

// Scrub returns content unchanged.
func (Noop) Scrub(content string) *Result {
	return &Result{Scrubbed: content}
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Noop{}
)
