// Package diff computes the reconciliation plan between two recipes: the set
// of native and language-layer packages to add, update, and delete.
package diff

import (
	"sort"

	"envrec/pkg/spec"
)

// Update pairs the old and new spec for a package whose version or build changed.
type Update struct {
	From spec.Spec
	To   spec.Spec
}

// SubDiff is the add/update/delete triple for one package provenance
// (native or language-layer).
type SubDiff struct {
	Adds    []spec.Spec
	Updates []Update
	Deletes []spec.Spec
}

// Plan is the full reconciliation plan: one SubDiff per provenance.
type Plan struct {
	Native   SubDiff
	Language SubDiff
}

// bootstrapOrder gives language-layer bootstrap packages priority: pip, wheel,
// setuptools, and six must land before anything that might depend on them.
var bootstrapOrder = []string{"pip", "wheel", "setuptools", "six"}

// nativeBootstrap gives the interpreter priority over everything that runs atop it.
var nativeBootstrap = []string{"python"}

func rank(name string, order []string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return len(order)
}

// Compute produces the reconciliation plan that takes old to new.
//
// For every name in old: if new carries the same (version, build) it is
// skipped; if new carries a different (version, build) with the same
// provenance it becomes an update; if the provenance changes (native <->
// language-layer) it becomes a delete on the old side and an add on the new
// side; if new drops the name entirely it becomes a delete.
//
// Every name in new not present in old becomes an add under new's provenance.
func Compute(old, new *spec.Recipe) Plan {
	var plan Plan

	for name, oldSpec := range old.Packages {
		newSpec, stillPresent := new.Packages[name]

		if !stillPresent {
			appendDelete(&plan, oldSpec)
			continue
		}

		if oldSpec.SameIdentity(newSpec) {
			continue
		}

		if oldSpec.IsPyPI() == newSpec.IsPyPI() {
			appendUpdate(&plan, oldSpec, newSpec)
		} else {
			appendDelete(&plan, oldSpec)
			appendAdd(&plan, newSpec)
		}
	}

	for name, newSpec := range new.Packages {
		if _, existedBefore := old.Packages[name]; existedBefore {
			continue
		}
		appendAdd(&plan, newSpec)
	}

	sortPlan(&plan)
	return plan
}

func appendAdd(plan *Plan, s spec.Spec) {
	if s.IsPyPI() {
		plan.Language.Adds = append(plan.Language.Adds, s)
	} else {
		plan.Native.Adds = append(plan.Native.Adds, s)
	}
}

func appendDelete(plan *Plan, s spec.Spec) {
	if s.IsPyPI() {
		plan.Language.Deletes = append(plan.Language.Deletes, s)
	} else {
		plan.Native.Deletes = append(plan.Native.Deletes, s)
	}
}

func appendUpdate(plan *Plan, from, to spec.Spec) {
	u := Update{From: from, To: to}
	if from.IsPyPI() {
		plan.Language.Updates = append(plan.Language.Updates, u)
	} else {
		plan.Native.Updates = append(plan.Native.Updates, u)
	}
}

func sortPlan(plan *Plan) {
	sortSubDiff(&plan.Native, nativeBootstrap)
	sortSubDiff(&plan.Language, bootstrapOrder)
}

func sortSubDiff(sd *SubDiff, addOrder []string) {
	sort.SliceStable(sd.Adds, func(i, j int) bool {
		ri, rj := rank(sd.Adds[i].Name, addOrder), rank(sd.Adds[j].Name, addOrder)
		if ri != rj {
			return ri < rj
		}
		return sd.Adds[i].Name < sd.Adds[j].Name
	})
	sort.Slice(sd.Updates, func(i, j int) bool {
		return sd.Updates[i].From.Name < sd.Updates[j].From.Name
	})
	sort.Slice(sd.Deletes, func(i, j int) bool {
		return sd.Deletes[i].Name < sd.Deletes[j].Name
	})
}
