package procrun

import "testing"

func TestProgressCounterMatchesNativeAndLanguageLayerIDs(t *testing.T) {
	var ids []string
	var counts []int
	pc := NewProgressCounter(func(id string, count int) {
		ids = append(ids, id)
		counts = append(counts, count)
	})

	pc.Line(`==> LINKING PACKAGE: defaults::numpy-1.18.1-py37h7241aed_0 <==`)
	pc.Line(`some unrelated log line`)
	pc.Line(`==> LINKING PACKAGE: pypi::django-4.0.6 <==`)

	if pc.Count() != 2 {
		t.Fatalf("expected 2 matches, got %d", pc.Count())
	}
	if len(ids) != 2 || ids[0] != "numpy-1.18.1-py37h7241aed_0" || ids[1] != "django-4.0.6" {
		t.Errorf("unexpected ids: %v", ids)
	}
	if counts[0] != 1 || counts[1] != 2 {
		t.Errorf("unexpected running counts: %v", counts)
	}
}

func TestProgressCounterIgnoresNonMatchingLines(t *testing.T) {
	pc := NewProgressCounter(nil)
	pc.Line("downloading numpy-1.18.1...")
	pc.Line("")
	if pc.Count() != 0 {
		t.Errorf("expected 0 matches, got %d", pc.Count())
	}
}
