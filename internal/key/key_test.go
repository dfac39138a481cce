package key

import (
	"math"
	"testing"
)

func TestMakeElidesEmptyOptions(t *testing.T) {
	k, err := Make("ns.name@1", "")
	if err != nil {
		t.Fatal(err)
	}
	if k.String() != "ns.name@1" {
		t.Fatalf("got %q, want %q", k.String(), "ns.name@1")
	}

	k2, err := Make("ns.name@1", "{}")
	if err != nil {
		t.Fatal(err)
	}
	if k2.String() != "ns.name@1" {
		t.Fatalf("got %q, want %q", k2.String(), "ns.name@1")
	}
}

func TestMakeWithOptions(t *testing.T) {
	k, err := Make("ns.name@1", `{a=1,b="x"}`)
	if err != nil {
		t.Fatal(err)
	}
	want := `ns.name@1{a=1,b="x"}`
	if k.String() != want {
		t.Fatalf("got %q, want %q", k.String(), want)
	}
	if k.Identity() != "ns.name@1" {
		t.Fatalf("Identity() = %q", k.Identity())
	}
	if k.Namespace() != "ns" || k.Name() != "name" || k.Revision() != "@1" {
		t.Fatalf("components: ns=%q name=%q rev=%q", k.Namespace(), k.Name(), k.Revision())
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"a.tool@1",
		`a.tool@2{debug=true,opt=1}`,
	} {
		k, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if k.String() != s {
			t.Fatalf("round-trip: got %q, want %q", k.String(), s)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"noat",
		"@rev",
		"ns@rev",
		"ns.name@",
		"ns.name@1{unterminated",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q): expected error", c)
		}
	}
}

func TestEqual(t *testing.T) {
	k1, _ := Make("a.b@1", `{x=1,y=2}`)
	k2, _ := Make("a.b@1", `{x=1,y=2}`)
	k3, _ := Make("a.b@1", `{x=1,y=3}`)
	if !k1.Equal(k2) {
		t.Fatal("expected equal keys to compare equal")
	}
	if k1.Equal(k3) {
		t.Fatal("expected different keys to compare unequal")
	}
}

func TestMatches(t *testing.T) {
	k, _ := Make("ns.name@1", `{a=1}`)

	cases := []struct {
		q    string
		want bool
	}{
		{"name", true},
		{"ns.name", true},
		{"name@1", true},
		{"ns.name@1", true},
		{"ns.name@1{a=1}", true},
		{"ns.name@2", false},
		{"other.name", false},
		{"ns.other", false},
	}
	for _, c := range cases {
		q, err := ParseQuery(c.q)
		if err != nil {
			t.Fatalf("ParseQuery(%q): %v", c.q, err)
		}
		if got := k.Matches(q); got != c.want {
			t.Errorf("Matches(%q) = %v, want %v", c.q, got, c.want)
		}
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	v1 := Table(nil, map[string]Value{
		"b": Int(2),
		"a": Int(1),
		"c": Str(`hi "there"` + "\n"),
	})
	v2 := Table(nil, map[string]Value{
		"c": Str(`hi "there"` + "\n"),
		"a": Int(1),
		"b": Int(2),
	})

	s1, err := Canonicalize(v1)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Canonicalize(v2)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("insertion-order dependence: %q != %q", s1, s2)
	}
	want := `{"a"=1,"b"=2,"c"="hi \"there\"\n"}`
	if s1 != want {
		t.Fatalf("got %q, want %q", s1, want)
	}
}

func TestCanonicalizeArrayAndNested(t *testing.T) {
	v := Table([]Value{Int(10), Str("x")}, map[string]Value{
		"nested": Table(nil, map[string]Value{"z": Bool(true)}),
	})
	s, err := Canonicalize(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `{[1]=10,[2]="x","nested"={"z"=true}}`
	if s != want {
		t.Fatalf("got %q, want %q", s, want)
	}
}

func TestCanonicalizeRejectsNonFinite(t *testing.T) {
	cases := []Value{
		Float(math.Inf(1)),
		Float(math.Inf(-1)),
		Float(math.NaN()),
	}
	for _, v := range cases {
		if _, err := Canonicalize(v); err == nil {
			t.Fatalf("expected error for non-finite float %v", v.Float)
		}
	}
}

func TestCanonicalizeIntVsFloat(t *testing.T) {
	si, err := Canonicalize(Int(3))
	if err != nil {
		t.Fatal(err)
	}
	sf, err := Canonicalize(Float(3))
	if err != nil {
		t.Fatal(err)
	}
	if si == sf {
		t.Fatalf("int and float literals for the same numeric value must differ: %q == %q", si, sf)
	}
	if si != "3" {
		t.Fatalf("int literal: got %q, want %q", si, "3")
	}
	if sf != "3.0" {
		t.Fatalf("float literal: got %q, want %q", sf, "3.0")
	}
}
