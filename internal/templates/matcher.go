// Package templates matches incoming recordings against tenant-defined
// processing templates.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"

	"lectern/internal/queue"
	"lectern/internal/services"
)

const regexCacheSize = 256

// MatchRules is the stored rule set for one template. Mode "any" matches
// when at least one populated rule kind matches; "all" requires every
// populated rule kind to match. Title comparison is case-insensitive
// unless CaseSensitive is set; source IDs are always compared exactly.
type MatchRules struct {
	Mode          string   `json:"mode,omitempty"`
	TitleExact    []string `json:"title_exact,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	TitlePatterns []string `json:"title_patterns,omitempty"`
	SourceIDs     []string `json:"source_ids,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

// Empty reports whether the rule set has no populated rule kinds. An
// empty rule set never matches anything.
func (r MatchRules) Empty() bool {
	return len(r.TitleExact) == 0 && len(r.Keywords) == 0 &&
		len(r.TitlePatterns) == 0 && len(r.SourceIDs) == 0
}

// Matcher evaluates template rules against items. Compiled regex
// patterns are cached across evaluations since tenants reuse the same
// templates for every incoming recording.
type Matcher struct {
	store    *queue.Store
	folder   cases.Caser
	compiled *lru.Cache[string, *regexp.Regexp]
}

func NewMatcher(store *queue.Store) (*Matcher, error) {
	compiled, err := lru.New[string, *regexp.Regexp](regexCacheSize)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		store:    store,
		folder:   cases.Fold(),
		compiled: compiled,
	}, nil
}

// Match returns the winning template for the item among the tenant's
// templates, or nil when nothing matches. Ties on priority go to the
// template created most recently but still before the item, so rules
// added after a recording arrived do not retroactively claim it unless
// re-matching is requested explicitly.
func (m *Matcher) Match(ctx context.Context, item *queue.Item) (*queue.Template, error) {
	candidates, err := m.store.TemplatesForTenant(ctx, item.TenantID)
	if err != nil {
		return nil, err
	}

	var winner *queue.Template
	for _, candidate := range candidates {
		matched, err := m.evaluate(candidate, item)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		if winner == nil || m.outranks(candidate, winner, item) {
			winner = candidate
		}
	}
	return winner, nil
}

// Assign runs Match and persists the outcome, clearing the item's
// re-match flag. Safe to call repeatedly; assigning the same template
// again is a no-op at the data level.
func (m *Matcher) Assign(ctx context.Context, item *queue.Item) (*queue.Template, error) {
	winner, err := m.Match(ctx, item)
	if err != nil {
		return nil, err
	}
	var templateID *int64
	if winner != nil {
		templateID = &winner.ID
	}
	if err := m.store.AssignTemplate(ctx, item.ID, templateID); err != nil {
		return nil, err
	}
	item.TemplateID = templateID
	item.NeedsRematch = false
	return winner, nil
}

// RematchPending re-evaluates every item a template deletion flagged for
// the tenant and returns how many were re-assigned.
func (m *Matcher) RematchPending(ctx context.Context, tenantID string) (int, error) {
	items, err := m.store.ItemsNeedingRematch(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, err := m.Assign(ctx, item); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

func (m *Matcher) outranks(candidate, incumbent *queue.Template, item *queue.Item) bool {
	if candidate.Priority != incumbent.Priority {
		return candidate.Priority > incumbent.Priority
	}
	candidateEligible := !candidate.CreatedAt.After(item.CreatedAt)
	incumbentEligible := !incumbent.CreatedAt.After(item.CreatedAt)
	if candidateEligible != incumbentEligible {
		return candidateEligible
	}
	return candidate.CreatedAt.After(incumbent.CreatedAt)
}

func (m *Matcher) evaluate(tpl *queue.Template, item *queue.Item) (bool, error) {
	rules, err := ParseRules(tpl.RulesJSON)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "match", "parse rules",
			fmt.Sprintf("template %d has an invalid rule set", tpl.ID), err)
	}
	if rules.Empty() {
		return false, nil
	}

	title := strings.TrimSpace(item.Title)
	if !rules.CaseSensitive {
		title = m.folder.String(title)
	}
	results := make([]bool, 0, 4)

	if len(rules.TitleExact) > 0 {
		results = append(results, m.matchExact(rules.TitleExact, title, rules.CaseSensitive))
	}
	if len(rules.Keywords) > 0 {
		results = append(results, m.matchKeywords(rules.Keywords, title, rules.CaseSensitive))
	}
	if len(rules.TitlePatterns) > 0 {
		matched, err := m.matchPatterns(rules.TitlePatterns, item.Title, tpl.ID, rules.CaseSensitive)
		if err != nil {
			return false, err
		}
		results = append(results, matched)
	}
	if len(rules.SourceIDs) > 0 {
		results = append(results, matchSourceIDs(rules.SourceIDs, item.SourceID))
	}

	if rules.Mode == "all" {
		for _, matched := range results {
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}
	for _, matched := range results {
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func (m *Matcher) matchExact(values []string, title string, caseSensitive bool) bool {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if !caseSensitive {
			value = m.folder.String(value)
		}
		if value == title {
			return true
		}
	}
	return false
}

func (m *Matcher) matchKeywords(keywords []string, title string, caseSensitive bool) bool {
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if !caseSensitive {
			keyword = m.folder.String(keyword)
		}
		if keyword != "" && strings.Contains(title, keyword) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchPatterns(patterns []string, title string, templateID int64, caseSensitive bool) (bool, error) {
	for _, pattern := range patterns {
		re, err := m.compile(pattern, caseSensitive)
		if err != nil {
			return false, services.Wrap(services.ErrValidation, "match", "compile pattern",
				fmt.Sprintf("template %d pattern %q does not compile", templateID, pattern), err)
		}
		if re.MatchString(title) {
			return true, nil
		}
	}
	return false, nil
}

// matchSourceIDs is a membership test. Source IDs are opaque recorder
// identifiers; a rule listing rec-1 must not claim rec-10.
func matchSourceIDs(allowed []string, sourceID string) bool {
	for _, id := range allowed {
		if strings.TrimSpace(id) == sourceID {
			return true
		}
	}
	return false
}

func (m *Matcher) compile(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	if re, ok := m.compiled.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.compiled.Add(pattern, re)
	return re, nil
}

// ParseRules decodes a stored rule set. An empty payload yields an empty
// rule set rather than an error.
func ParseRules(rulesJSON string) (MatchRules, error) {
	var rules MatchRules
	if strings.TrimSpace(rulesJSON) == "" {
		return rules, nil
	}
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		return rules, err
	}
	if rules.Mode == "" {
		rules.Mode = "any"
	}
	if rules.Mode != "any" && rules.Mode != "all" {
		return rules, fmt.Errorf("unknown match mode %q", rules.Mode)
	}
	return rules, nil
}

// ValidateRules checks a rule set before it is stored, compiling every
// pattern so broken regexes are rejected at template creation time.
func ValidateRules(rulesJSON string) error {
	rules, err := ParseRules(rulesJSON)
	if err != nil {
		return err
	}
	for _, pattern := range rules.TitlePatterns {
		if !rules.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}
