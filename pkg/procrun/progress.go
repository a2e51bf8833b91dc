package procrun

import "regexp"

// linkingPattern matches the native package manager's per-package progress
// line, e.g. "==> LINKING PACKAGE: defaults::numpy-1.18.1-py37h7241aed_0 <==".
// The captured id is "{name}-{version}-{build}" for native packages or
// "{name}-{version}" for language-layer ones.
var linkingPattern = regexp.MustCompile(`==> LINKING PACKAGE: .*?::(\S+) <==`)

// ProgressCounter tallies native-PM linking progress by matching stderr
// lines against the LINKING PACKAGE marker. Every matching line increments
// the count by one, starting with the first line seen.
type ProgressCounter struct {
	count  int
	onTick func(id string, count int)
}

// NewProgressCounter returns a counter that invokes onTick with the matched
// package id and running total each time a stderr line reports progress.
func NewProgressCounter(onTick func(id string, count int)) *ProgressCounter {
	return &ProgressCounter{onTick: onTick}
}

// Line feeds one stderr line to the counter.
func (p *ProgressCounter) Line(line string) {
	m := linkingPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	p.count++
	if p.onTick != nil {
		p.onTick(m[1], p.count)
	}
}

// Count returns the number of progress lines observed so far.
func (p *ProgressCounter) Count() int { return p.count }
