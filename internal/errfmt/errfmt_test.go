package errfmt

import (
	"strings"
	"testing"

	"github.com/charlesnicholson/envy/internal/cfg"
)

func TestFormatParsesSpecLocation(t *testing.T) {
	c := &cfg.Cfg{Identity: "ns.tool@1", DeclaringFilePath: "/repo/pkgs/tool.lua"}
	raw := "tool.lua:42: attempt to call a nil value\n\tstack traceback:\n\t[G]: ?\n\ttool.lua:42: in main chunk"
	r := Format(c, "build", raw)

	if r.Headline != "tool.lua:42: attempt to call a nil value" {
		t.Fatalf("headline = %q", r.Headline)
	}
	if r.SpecFile != "tool.lua" || r.SpecLine != 42 {
		t.Fatalf("spec location = %s:%d", r.SpecFile, r.SpecLine)
	}
	for _, l := range r.StackTrace {
		if strings.Contains(l, "[G]") {
			t.Fatalf("expected native frame markers stripped, found %q", l)
		}
	}
}

func TestFormatWalksParentChain(t *testing.T) {
	grandparent := &cfg.Cfg{Identity: "ns.root@1", DeclaringFilePath: "/repo/manifest.lua"}
	parent := &cfg.Cfg{Identity: "ns.mid@1", DeclaringFilePath: "/repo/pkgs/mid.lua", Parent: grandparent}
	child := &cfg.Cfg{Identity: "ns.leaf@1", DeclaringFilePath: "/repo/pkgs/leaf.lua", Parent: parent}

	r := Format(child, "fetch", "some error")
	if len(r.Chain) != 2 {
		t.Fatalf("expected a 2-step chain, got %d: %+v", len(r.Chain), r.Chain)
	}
	if r.Chain[0].Identity != "ns.mid@1" || r.Chain[0].FileBase != "mid.lua" {
		t.Fatalf("chain[0] = %+v", r.Chain[0])
	}
	if r.Chain[1].Identity != "ns.root@1" || r.Chain[1].FileBase != "manifest.lua" {
		t.Fatalf("chain[1] = %+v", r.Chain[1])
	}
}

func TestReportStringIncludesPhaseAndDeclaringFile(t *testing.T) {
	c := &cfg.Cfg{Identity: "ns.tool@1", DeclaringFilePath: "/repo/pkgs/tool.lua"}
	r := Format(c, "build", "boom")
	s := r.String()
	if !strings.Contains(s, "phase: build") {
		t.Fatalf("expected phase in report: %s", s)
	}
	if !strings.Contains(s, "/repo/pkgs/tool.lua") {
		t.Fatalf("expected declaring file in report: %s", s)
	}
}
