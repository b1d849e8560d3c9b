// Package anonymize strips PHI from raw records and derives stable
// pseudonymous tokens. Anonymization happens before anything else touches
// a record: the embedder and the encrypted index only ever see scrubbed
// text and opaque tokens.
package anonymize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/poiesic/medvault/core"
)

// Rule is a single PHI pattern. Matches are replaced with a fixed marker
// of the form [<NAME>_REMOVED].
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultRules covers identifier-like patterns found in clinical free
// text: SSNs, phone numbers, email addresses, exact dates and MRN-style
// record numbers. Patterns are matched case-insensitively.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "ssn", Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{Name: "phone", Pattern: regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
		{Name: "email", Pattern: regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		{Name: "date", Pattern: regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)},
		{Name: "mrn", Pattern: regexp.MustCompile(`(?i)\bMRN[-_ ]?\d{4,}\b`)},
	}
}

// RawRecord is an unscrubbed record as received from the caller.
type RawRecord struct {
	SourceID string            // original identifier, never stored
	Text     string            // free text, may contain PHI
	Metadata map[string]string // tags, values are scrubbed too
}

// Anonymizer maps raw records to PHI-free records. It is safe for
// concurrent use; the rule set and salt are fixed at construction.
type Anonymizer struct {
	salt   []byte
	rules  []Rule
	logger *slog.Logger
}

// Option configures an Anonymizer.
type Option func(*Anonymizer)

// WithRules replaces the default PHI rule set.
func WithRules(rules []Rule) Option {
	return func(a *Anonymizer) {
		a.rules = rules
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Anonymizer) {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
	}
}

// New creates an Anonymizer. The salt seeds token derivation and must be
// 1-64 bytes (keyed BLAKE2b limit).
func New(salt []byte, opts ...Option) (*Anonymizer, error) {
	if len(salt) == 0 || len(salt) > 64 {
		return nil, fmt.Errorf("anonymization salt must be 1-64 bytes, got %d", len(salt))
	}
	a := &Anonymizer{
		salt:   salt,
		rules:  DefaultRules(),
		logger: slog.Default().With("component", "anonymizer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Anonymize scrubs PHI from a raw record and derives its token. It never
// panics on malformed input: text that matches no rule passes through
// unchanged, matched spans are replaced with redaction markers. Returns
// the scrubbed record and the number of redactions performed, for audit.
//
// Fails only when required fields are entirely absent.
func (a *Anonymizer) Anonymize(raw *RawRecord) (*core.Record, int, error) {
	if raw == nil {
		return nil, 0, fmt.Errorf("%w: raw record is nil", core.ErrMissingFields)
	}
	if raw.SourceID == "" {
		return nil, 0, fmt.Errorf("%w: source identifier is empty", core.ErrMissingFields)
	}
	if raw.Text == "" {
		return nil, 0, fmt.Errorf("%w: record text is empty", core.ErrMissingFields)
	}

	redactions := 0
	text := a.scrub(raw.Text, &redactions)

	var metadata map[string]string
	if raw.Metadata != nil {
		metadata = make(map[string]string, len(raw.Metadata))
		for k, v := range raw.Metadata {
			metadata[k] = a.scrub(v, &redactions)
		}
	}

	record := &core.Record{
		Token:    core.TokenFromSource(a.salt, raw.SourceID),
		Text:     text,
		Metadata: metadata,
	}

	if redactions > 0 {
		a.logger.Debug("redacted PHI from record", "token", record.Token, "redactions", redactions)
	}

	return record, redactions, nil
}

// scrub applies every rule to the text, counting replacements.
func (a *Anonymizer) scrub(text string, redactions *int) string {
	for _, rule := range a.rules {
		matches := rule.Pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		*redactions += len(matches)
		marker := "[" + strings.ToUpper(rule.Name) + "_REMOVED]"
		text = rule.Pattern.ReplaceAllString(text, marker)
	}
	return text
}
