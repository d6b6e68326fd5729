// Package rules implements the predicate that decides whether an approval
// rule applies to an entity. Criteria are conjunctive across dimensions and
// disjunctive within one; tags match on any overlap.
package rules

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"studioflow/internal/domain"
)

// Entity is the projection of a task, document or stage that rule criteria
// are evaluated against.
type Entity struct {
	Stage    string
	Priority string
	Category string
	Title    string
	Tags     []string
}

// IsEmpty reports whether no criterion is set. A rule with empty criteria
// matches everything; creation-side validation keeps such rules out, the
// matcher itself stays lenient.
func IsEmpty(c domain.MatchCriteria) bool {
	return len(c.Stages) == 0 &&
		len(c.Priorities) == 0 &&
		len(c.DocumentCategories) == 0 &&
		strings.TrimSpace(c.TitlePattern) == "" &&
		len(c.Tags) == 0
}

// Matches evaluates the criteria against the entity. Each set criterion must
// pass; the first failing one short-circuits.
func Matches(e Entity, c domain.MatchCriteria) bool {
	if len(c.Stages) > 0 && !containsFold(c.Stages, e.Stage) {
		return false
	}
	if len(c.Priorities) > 0 && !containsFold(c.Priorities, e.Priority) {
		return false
	}
	if len(c.DocumentCategories) > 0 && !containsFold(c.DocumentCategories, e.Category) {
		return false
	}
	if pattern := strings.TrimSpace(c.TitlePattern); pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			// Lenient policy: a broken pattern skips this criterion only.
			zap.L().Warn("invalid rule title pattern, criterion skipped",
				zap.String("pattern", pattern), zap.Error(err))
		} else if !re.MatchString(e.Title) {
			return false
		}
	}
	if len(c.Tags) > 0 && !anyOverlapFold(e.Tags, c.Tags) {
		return false
	}
	return true
}

// CountMatches reports how many of the given entities the criteria match.
// Pure, used for "this rule matches N existing items" previews.
func CountMatches(c domain.MatchCriteria, entities []Entity) int {
	n := 0
	for _, e := range entities {
		if Matches(e, c) {
			n++
		}
	}
	return n
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func anyOverlapFold(have, want []string) bool {
	for _, h := range have {
		if containsFold(want, h) {
			return true
		}
	}
	return false
}
