package diff

import (
	"testing"

	"envrec/pkg/spec"
)

func mustParse(t *testing.T, text string) *spec.Recipe {
	t.Helper()
	r, err := spec.Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return r
}

func TestEmptyToPopulated(t *testing.T) {
	old := mustParse(t, "")
	new := mustParse(t, "python   3.10.4  hbdb9e5c_0\npip      22.1.2  py310hca03da5_0\ndjango   4.0.6   pypi_0   pypi\n")

	plan := Compute(old, new)

	if len(plan.Native.Adds) != 2 || plan.Native.Adds[0].Name != "python" || plan.Native.Adds[1].Name != "pip" {
		t.Fatalf("expected [python, pip] native adds, got %+v", plan.Native.Adds)
	}
	if len(plan.Language.Adds) != 1 || plan.Language.Adds[0].Name != "django" {
		t.Fatalf("expected [django] language adds, got %+v", plan.Language.Adds)
	}
	if len(plan.Native.Updates) != 0 || len(plan.Native.Deletes) != 0 {
		t.Fatalf("expected no native updates/deletes")
	}
}

func TestPureUpdate(t *testing.T) {
	old := mustParse(t, "a 0.1.0 abc")
	new := mustParse(t, "a 0.2.0 abc")

	plan := Compute(old, new)

	if len(plan.Native.Updates) != 1 {
		t.Fatalf("expected 1 update, got %+v", plan.Native.Updates)
	}
	u := plan.Native.Updates[0]
	if u.From.Version != "0.1.0" || u.To.Version != "0.2.0" {
		t.Errorf("unexpected update: %+v", u)
	}
	if len(plan.Native.Adds) != 0 || len(plan.Native.Deletes) != 0 {
		t.Fatalf("expected no adds/deletes alongside the update")
	}
}

func TestCrossKindUpdate(t *testing.T) {
	old := mustParse(t, "numpy 1.18.1 py37h7241aed_0")
	new := mustParse(t, "numpy 1.18.2 pypi_0 pypi")

	plan := Compute(old, new)

	if len(plan.Native.Deletes) != 1 || plan.Native.Deletes[0].Version != "1.18.1" {
		t.Fatalf("expected native delete of numpy@1.18.1, got %+v", plan.Native.Deletes)
	}
	if len(plan.Language.Adds) != 1 || plan.Language.Adds[0].Version != "1.18.2" {
		t.Fatalf("expected language add of numpy@1.18.2, got %+v", plan.Language.Adds)
	}
	if len(plan.Native.Updates) != 0 {
		t.Fatalf("cross-kind changes must not appear as updates")
	}
}

func TestBootstrapOrdering(t *testing.T) {
	old := mustParse(t, "")
	new := mustParse(t, "six 1.16.0 x pypi\nzzz 1.0 x pypi\npip 22.1.2 x pypi\nwheel 0.37 x pypi\nsetuptools 62.0 x pypi\naaa 1.0 x pypi\n")

	plan := Compute(old, new)

	got := make([]string, len(plan.Language.Adds))
	for i, s := range plan.Language.Adds {
		got[i] = s.Name
	}
	want := []string{"pip", "wheel", "setuptools", "six", "aaa", "zzz"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bootstrap ordering mismatch: got %v, want %v", got, want)
		}
	}
}

func TestDisjointness(t *testing.T) {
	old := mustParse(t, "a 0.1 x\nb 0.1 x\nc 0.1 x")
	new := mustParse(t, "a 0.1 x\nb 0.2 x\nd 0.1 x")

	plan := Compute(old, new)

	seen := make(map[string]int)
	for _, s := range plan.Native.Adds {
		seen[s.Name]++
	}
	for _, u := range plan.Native.Updates {
		seen[u.From.Name]++
	}
	for _, s := range plan.Native.Deletes {
		seen[s.Name]++
	}
	for name, count := range seen {
		if count > 1 {
			t.Errorf("name %s appears in %d of adds/updates/deletes", name, count)
		}
	}
}
