package templates

import (
	"context"
	"path/filepath"
	"testing"

	"lectern/internal/queue"
)

func openTestStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.OpenPath(filepath.Join(t.TempDir(), "lectern.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newMatcher(t *testing.T, store *queue.Store) *Matcher {
	t.Helper()
	matcher, err := NewMatcher(store)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return matcher
}

func seedItem(t *testing.T, store *queue.Store, sourceID, title string) *queue.Item {
	t.Helper()
	item, err := store.NewItem(context.Background(), queue.NewItemParams{
		TenantID: "acme",
		SourceID: sourceID,
		Title:    title,
	})
	if err != nil {
		t.Fatalf("NewItem: %v", err)
	}
	return item
}

func seedTemplate(t *testing.T, store *queue.Store, name, rules string, priority int) *queue.Template {
	t.Helper()
	tpl, err := store.CreateTemplate(context.Background(), &queue.Template{
		TenantID:  "acme",
		Name:      name,
		RulesJSON: rules,
		Priority:  priority,
	})
	if err != nil {
		t.Fatalf("CreateTemplate(%s): %v", name, err)
	}
	return tpl
}

func TestMatchKeywordCaseFolding(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	seedTemplate(t, store, "lectures", `{"keywords": ["LECTURE"]}`, 0)
	item := seedItem(t, store, "rec-1", "CS101 lecture recording")

	winner, err := matcher.Match(context.Background(), item)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner == nil {
		t.Fatal("expected keyword match across case")
	}
}

func TestMatchModeAllRequiresEveryRuleKind(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	seedTemplate(t, store, "strict",
		`{"mode": "all", "keywords": ["lecture"], "source_ids": ["zoom-42"]}`, 0)

	partial := seedItem(t, store, "rec-2", "CS101 lecture")
	winner, err := matcher.Match(context.Background(), partial)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner != nil {
		t.Fatal("partial match should fail in all mode")
	}

	full := seedItem(t, store, "zoom-42", "CS101 lecture")
	winner, err = matcher.Match(context.Background(), full)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner == nil {
		t.Fatal("full match should succeed in all mode")
	}
}

func TestMatchSourceIDsRequireExactMembership(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	seedTemplate(t, store, "room-a", `{"source_ids": ["rec-1"]}`, 0)

	listed := seedItem(t, store, "rec-1", "Morning session")
	winner, err := matcher.Match(context.Background(), listed)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner == nil {
		t.Fatal("listed source ID should match")
	}

	neighbor := seedItem(t, store, "rec-10", "Morning session")
	winner, err = matcher.Match(context.Background(), neighbor)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner != nil {
		t.Fatal("rec-10 is not in the allow-list and must not match")
	}
}

func TestMatchCaseSensitiveRuleSet(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	ctx := context.Background()
	seedTemplate(t, store, "exact",
		`{"title_exact": ["Algebra II"], "case_sensitive": true}`, 0)

	match := seedItem(t, store, "rec-20", "Algebra II")
	winner, err := matcher.Match(ctx, match)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner == nil {
		t.Fatal("identical title should match")
	}

	lower := seedItem(t, store, "rec-21", "algebra ii")
	winner, err = matcher.Match(ctx, lower)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner != nil {
		t.Fatal("case-sensitive rule set must not fold the title")
	}
}

func TestMatchRegexPatterns(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	tpl := seedTemplate(t, store, "numbered", `{"title_patterns": ["^CS\\d{3}\\b"]}`, 0)
	item := seedItem(t, store, "rec-3", "cs101 Intro")

	winner, err := matcher.Match(context.Background(), item)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner == nil || winner.ID != tpl.ID {
		t.Fatalf("winner = %+v", winner)
	}
}

func TestMatchPriorityThenCreationTieBreak(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	ctx := context.Background()

	seedTemplate(t, store, "low", `{"keywords": ["lecture"]}`, 1)
	high := seedTemplate(t, store, "high", `{"keywords": ["lecture"]}`, 5)
	item := seedItem(t, store, "rec-4", "lecture four")

	winner, err := matcher.Match(ctx, item)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner == nil || winner.ID != high.ID {
		t.Fatalf("winner = %+v, want priority %d", winner, high.Priority)
	}

	// Equal priority: deterministic winner on repeated evaluation.
	seedTemplate(t, store, "seminar-a", `{"keywords": ["seminar"]}`, 2)
	seedTemplate(t, store, "seminar-b", `{"keywords": ["seminar"]}`, 2)
	seminar := seedItem(t, store, "rec-5", "physics seminar")

	first, err := matcher.Match(ctx, seminar)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if first == nil || first.Priority != 2 {
		t.Fatalf("winner = %+v", first)
	}
	for i := 0; i < 5; i++ {
		again, err := matcher.Match(ctx, seminar)
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if again == nil || again.ID != first.ID {
			t.Fatalf("tie-break not stable: %+v vs %+v", again, first)
		}
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	ctx := context.Background()

	tpl := seedTemplate(t, store, "lectures", `{"keywords": ["lecture"]}`, 0)
	item := seedItem(t, store, "rec-6", "guest lecture")

	for i := 0; i < 3; i++ {
		winner, err := matcher.Assign(ctx, item)
		if err != nil {
			t.Fatalf("Assign: %v", err)
		}
		if winner == nil || winner.ID != tpl.ID {
			t.Fatalf("winner = %+v", winner)
		}
	}

	reloaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.TemplateID == nil || *reloaded.TemplateID != tpl.ID {
		t.Fatalf("TemplateID = %v", reloaded.TemplateID)
	}
	if reloaded.NeedsRematch {
		t.Fatal("re-match flag should be clear")
	}
}

func TestRematchPendingAfterTemplateDelete(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	ctx := context.Background()

	specific := seedTemplate(t, store, "specific", `{"keywords": ["lecture"]}`, 5)
	fallback := seedTemplate(t, store, "fallback", `{"keywords": ["lecture"]}`, 1)
	item := seedItem(t, store, "rec-7", "final lecture")

	if _, err := matcher.Assign(ctx, item); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if _, err := store.DeleteTemplate(ctx, specific.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}

	rematched, err := matcher.RematchPending(ctx, "acme")
	if err != nil {
		t.Fatalf("RematchPending: %v", err)
	}
	if rematched != 1 {
		t.Fatalf("rematched = %d", rematched)
	}

	reloaded, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.TemplateID == nil || *reloaded.TemplateID != fallback.ID {
		t.Fatalf("TemplateID = %v, want fallback %d", reloaded.TemplateID, fallback.ID)
	}
}

func TestEmptyRulesNeverMatch(t *testing.T) {
	store := openTestStore(t)
	matcher := newMatcher(t, store)
	seedTemplate(t, store, "empty", `{}`, 100)
	item := seedItem(t, store, "rec-8", "anything at all")

	winner, err := matcher.Match(context.Background(), item)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if winner != nil {
		t.Fatal("empty rule set must not match")
	}
}

func TestValidateRulesRejectsBadRegex(t *testing.T) {
	if err := ValidateRules(`{"title_patterns": ["(["]}`); err == nil {
		t.Fatal("expected compile error")
	}
	if err := ValidateRules(`{"mode": "sometimes"}`); err == nil {
		t.Fatal("expected unknown mode error")
	}
	if err := ValidateRules(`{"keywords": ["ok"]}`); err != nil {
		t.Fatalf("ValidateRules: %v", err)
	}
}
