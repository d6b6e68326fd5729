package rules

import (
	"testing"

	"studioflow/internal/domain"
)

func TestMatchesConjunction(t *testing.T) {
	entity := Entity{
		Stage:    "Design",
		Priority: "high",
		Title:    "Client presentation deck",
		Tags:     []string{"client-facing", "deck"},
	}
	criteria := domain.MatchCriteria{
		Stages:     []string{"Design"},
		Priorities: []string{"high", "urgent"},
	}
	if !Matches(entity, criteria) {
		t.Fatalf("expected match on stage+priority")
	}
	criteria.Priorities = []string{"urgent"}
	if Matches(entity, criteria) {
		t.Fatalf("one failing dimension must fail the whole rule")
	}
}

func TestMatchesCaseInsensitive(t *testing.T) {
	entity := Entity{Stage: "design", Priority: "HIGH"}
	criteria := domain.MatchCriteria{
		Stages:     []string{"Design"},
		Priorities: []string{"high"},
	}
	if !Matches(entity, criteria) {
		t.Fatalf("dimension values should compare case-insensitively")
	}
}

func TestEmptyCriteriaMatchesEverything(t *testing.T) {
	if !IsEmpty(domain.MatchCriteria{}) {
		t.Fatalf("zero criteria should report empty")
	}
	if !Matches(Entity{Stage: "Procurement", Title: "anything"}, domain.MatchCriteria{}) {
		t.Fatalf("empty criteria must match vacuously")
	}
	if IsEmpty(domain.MatchCriteria{Tags: []string{"x"}}) {
		t.Fatalf("criteria with tags is not empty")
	}
}

func TestTitlePattern(t *testing.T) {
	entity := Entity{Title: "Final invoice for kitchen fit-out"}
	if !Matches(entity, domain.MatchCriteria{TitlePattern: "invoice"}) {
		t.Fatalf("expected substring pattern to match")
	}
	if !Matches(entity, domain.MatchCriteria{TitlePattern: "INVOICE"}) {
		t.Fatalf("pattern must be case-insensitive")
	}
	if Matches(entity, domain.MatchCriteria{TitlePattern: "^contract"}) {
		t.Fatalf("non-matching anchored pattern should fail")
	}
}

func TestInvalidPatternIsLenient(t *testing.T) {
	entity := Entity{Stage: "Design", Title: "anything"}
	criteria := domain.MatchCriteria{
		Stages:       []string{"Design"},
		TitlePattern: "([unclosed",
	}
	// A broken pattern skips only its own criterion; the rest still apply.
	if !Matches(entity, criteria) {
		t.Fatalf("invalid pattern must not fail the rule")
	}
	criteria.Stages = []string{"Production"}
	if Matches(entity, criteria) {
		t.Fatalf("remaining criteria still enforced")
	}
}

func TestTagsAnyOverlap(t *testing.T) {
	entity := Entity{Tags: []string{"budget", "Client-Facing"}}
	if !Matches(entity, domain.MatchCriteria{Tags: []string{"client-facing", "vip"}}) {
		t.Fatalf("any shared tag should match")
	}
	if Matches(entity, domain.MatchCriteria{Tags: []string{"vip"}}) {
		t.Fatalf("no shared tag should fail")
	}
	if Matches(Entity{}, domain.MatchCriteria{Tags: []string{"vip"}}) {
		t.Fatalf("entity without tags cannot satisfy a tag criterion")
	}
}

func TestCountMatches(t *testing.T) {
	entities := []Entity{
		{Stage: "Design", Priority: "high"},
		{Stage: "Design", Priority: "low"},
		{Stage: "Production", Priority: "high"},
	}
	criteria := domain.MatchCriteria{Stages: []string{"Design"}}
	if got := CountMatches(criteria, entities); got != 2 {
		t.Fatalf("expected 2 matches, got %d", got)
	}
	criteria.Priorities = []string{"high"}
	if got := CountMatches(criteria, entities); got != 1 {
		t.Fatalf("expected 1 match, got %d", got)
	}
}
