package spoil

import (
	"testing"

	"github.com/crawlcore/crawlcore/internal/crawlstore"
)

type fixedPolicy struct {
	d Disposition
}

func (p fixedPolicy) Resolve(string, crawlstore.State) Disposition {
	return p.d
}

func TestResolveNilPolicyFallsBackToDefault(t *testing.T) {
	got := Resolve(nil, "https://example.com/a", crawlstore.StateBadStatus)
	if got != DefaultDisposition {
		t.Fatalf("Resolve(nil) = %q, want %q", got, DefaultDisposition)
	}
}

func TestResolveEmptyDispositionFallsBackToDefault(t *testing.T) {
	got := Resolve(fixedPolicy{d: ""}, "https://example.com/a", crawlstore.StateBadStatus)
	if got != DefaultDisposition {
		t.Fatalf("Resolve(empty) = %q, want %q", got, DefaultDisposition)
	}
}

func TestResolveUsesPolicyDisposition(t *testing.T) {
	got := Resolve(fixedPolicy{d: DispositionGraceOnce}, "https://example.com/a", crawlstore.StateBadStatus)
	if got != DispositionGraceOnce {
		t.Fatalf("Resolve() = %q, want %q", got, DispositionGraceOnce)
	}
}

func TestRegexPolicyFirstMatchWins(t *testing.T) {
	p, err := NewRegexPolicy([]Rule{
		{Pattern: `\.pdf$`, Disposition: DispositionIgnore},
		{Pattern: `/tmp/`, Disposition: DispositionDelete},
	})
	if err != nil {
		t.Fatalf("NewRegexPolicy() error = %v", err)
	}

	got := p.Resolve("https://example.com/tmp/report.pdf", crawlstore.StateBadStatus)
	if got != DispositionIgnore {
		t.Fatalf("Resolve() = %q, want %q (first rule should win)", got, DispositionIgnore)
	}
}

func TestRegexPolicyNoMatchReturnsEmpty(t *testing.T) {
	p, err := NewRegexPolicy([]Rule{
		{Pattern: `\.pdf$`, Disposition: DispositionIgnore},
	})
	if err != nil {
		t.Fatalf("NewRegexPolicy() error = %v", err)
	}

	got := p.Resolve("https://example.com/page.html", crawlstore.StateBadStatus)
	if got != "" {
		t.Fatalf("Resolve() = %q, want empty disposition", got)
	}
	if Resolve(p, "https://example.com/page.html", crawlstore.StateBadStatus) != DefaultDisposition {
		t.Fatalf("Resolve() via helper should fall back to default disposition on no match")
	}
}

func TestRegexPolicyCaseSensitivity(t *testing.T) {
	insensitive, err := NewRegexPolicy([]Rule{{Pattern: `LOGIN`, CaseSens: false, Disposition: DispositionDelete}})
	if err != nil {
		t.Fatalf("NewRegexPolicy() error = %v", err)
	}
	if got := insensitive.Resolve("https://example.com/login", crawlstore.StateBadStatus); got != DispositionDelete {
		t.Fatalf("case-insensitive Resolve() = %q, want %q", got, DispositionDelete)
	}

	sensitive, err := NewRegexPolicy([]Rule{{Pattern: `LOGIN`, CaseSens: true, Disposition: DispositionDelete}})
	if err != nil {
		t.Fatalf("NewRegexPolicy() error = %v", err)
	}
	if got := sensitive.Resolve("https://example.com/login", crawlstore.StateBadStatus); got != "" {
		t.Fatalf("case-sensitive Resolve() = %q, want empty (no match)", got)
	}
}

func TestNewRegexPolicyRejectsInvalidPattern(t *testing.T) {
	_, err := NewRegexPolicy([]Rule{{Pattern: `(unterminated`, Disposition: DispositionDelete}})
	if err == nil {
		t.Fatal("NewRegexPolicy() with invalid pattern should return an error")
	}
}
