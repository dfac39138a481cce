// Package errfmt builds rich, multi-line diagnostic reports from a failed
// package record, a phase name, and the underlying scripting-runtime error
// string: a headline, a cleaned stack trace, the offending spec file and
// line, and the provenance chain walked through a cfg's parent pointers.
package errfmt

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charlesnicholson/envy/internal/cfg"
)

var luaLocation = regexp.MustCompile(`([\w./-]+\.lua):(\d+):`)

// nativeFrameMarkers are the substrings gopher-lua leaves in a traceback
// that point at its own Go internals rather than the user's script.
var nativeFrameMarkers = []string{
	"[G]",
	"goroutine ",
	".go:",
}

// Report is a formatted diagnostic for one failed phase of one package.
type Report struct {
	Identity          string
	Phase             string
	Headline          string
	StackTrace        []string
	SpecFile          string
	SpecLine          int
	DeclaringFilePath string
	Chain             []ChainStep
}

// ChainStep is one hop in the provenance chain: the declaring cfg's
// identity and the basename of the file that declared it.
type ChainStep struct {
	Identity string
	FileBase string
}

// Format builds a Report for c, failing in phaseName with a raw
// scripting-runtime error message scriptErr (as gopher-lua would render a
// traceback: first line is the headline, remaining lines are the stack).
func Format(c *cfg.Cfg, phaseName, scriptErr string) Report {
	lines := strings.Split(scriptErr, "\n")
	headline := ""
	if len(lines) > 0 {
		headline = strings.TrimSpace(lines[0])
	}

	var stack []string
	for _, l := range lines[minInt(1, len(lines)):] {
		if isNativeFrame(l) {
			continue
		}
		l = strings.TrimSpace(l)
		if l != "" {
			stack = append(stack, l)
		}
	}

	specFile, specLine := "", 0
	if m := luaLocation.FindStringSubmatch(headline); m != nil {
		specFile = m[1]
		fmt.Sscanf(m[2], "%d", &specLine)
	}

	return Report{
		Identity:          c.Identity,
		Phase:             phaseName,
		Headline:          headline,
		StackTrace:        stack,
		SpecFile:          specFile,
		SpecLine:          specLine,
		DeclaringFilePath: c.DeclaringFilePath,
		Chain:             chain(c),
	}
}

func isNativeFrame(line string) bool {
	for _, marker := range nativeFrameMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

func chain(c *cfg.Cfg) []ChainStep {
	var steps []ChainStep
	for p := c.Parent; p != nil; p = p.Parent {
		steps = append(steps, ChainStep{
			Identity: p.Identity,
			FileBase: filepath.Base(p.DeclaringFilePath),
		})
	}
	return steps
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// String renders the Report as the multi-line text a log collaborator
// would write out: headline, location, cleaned stack, then the provenance
// chain innermost-first.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", r.Identity, r.Headline)
	fmt.Fprintf(&sb, "  phase: %s\n", r.Phase)
	if r.SpecFile != "" {
		fmt.Fprintf(&sb, "  at %s:%d\n", r.SpecFile, r.SpecLine)
	}
	fmt.Fprintf(&sb, "  declared in: %s\n", r.DeclaringFilePath)
	for _, l := range r.StackTrace {
		fmt.Fprintf(&sb, "  | %s\n", l)
	}
	for i, step := range r.Chain {
		fmt.Fprintf(&sb, "  via[%d] %s (%s)\n", i, step.Identity, step.FileBase)
	}
	return sb.String()
}
