package keyexpr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func TestNewAcceptsCanonicalExpressions(t *testing.T) {
	testlog.Start(t)
	for _, s := range []string{
		"demo/test",
		"demo",
		"demo/*/temp",
		"demo/**",
		"**",
		"robot/$*-arm/pose",
		"a/b$*c$*d/e",
		"@admin/x",
	} {
		if _, err := New(s); err != nil {
			t.Fatalf("New(%q): %v", s, err)
		}
	}
}

func TestNewRejectsInvalidExpressions(t *testing.T) {
	testlog.Start(t)
	for _, s := range []string{
		"",
		"/demo",
		"demo/",
		"demo//test",
		"demo?x=1",
		"demo#frag",
		"demo/a*",
		"demo/$x",
		"demo/$*",
		"demo/$*$*x",
		"demo/**/**",
		"demo/***",
	} {
		_, err := New(s)
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("New(%q): expected ErrInvalid, got %v", s, err)
		}
	}
}

func TestKeyExprIsValueType(t *testing.T) {
	testlog.Start(t)
	a := MustNew("demo/test")
	b := MustNew("demo/" + "test")
	if a != b {
		t.Fatalf("expected equal key expressions")
	}
	set := map[KeyExpr]int{a: 1}
	if set[b] != 1 {
		t.Fatalf("expected hashing by content")
	}
	if (KeyExpr{}).IsZero() != true || a.IsZero() {
		t.Fatalf("IsZero misreported")
	}
}

func TestJSONRoundTripValidates(t *testing.T) {
	testlog.Start(t)
	var v struct {
		KeyExpr KeyExpr `json:"key_expr"`
	}
	if err := json.Unmarshal([]byte(`{"key_expr":"demo/**"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.KeyExpr.String() != "demo/**" {
		t.Fatalf("unexpected key expr %q", v.KeyExpr)
	}
	out, err := json.Marshal(v)
	if err != nil || string(out) != `{"key_expr":"demo/**"}` {
		t.Fatalf("marshal: %s %v", out, err)
	}
	if err := json.Unmarshal([]byte(`{"key_expr":"demo//x"}`), &v); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := json.Marshal(struct{ K KeyExpr }{}); err == nil {
		t.Fatalf("expected zero key expr to fail marshal")
	}
}

func TestJoin(t *testing.T) {
	testlog.Start(t)
	k, err := MustNew("demo").Join("a/b")
	if err != nil || k.String() != "demo/a/b" {
		t.Fatalf("join: %v %v", k, err)
	}
	if _, err := MustNew("demo").Join("/x"); err == nil {
		t.Fatalf("expected invalid join")
	}
}

func TestIntersects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		a, b string
		want bool
	}{
		{"demo/test", "demo/test", true},
		{"demo/test", "demo/other", false},
		{"demo/*", "demo/test", true},
		{"demo/*", "demo/test/deep", false},
		{"demo/**", "demo/test/deep", true},
		{"demo/**", "demo", true},
		{"**", "any/thing/at/all", true},
		{"a/**/z", "a/b/c/z", true},
		{"a/**/z", "a/b/c/y", false},
		{"a/*/c", "a/**", true},
		{"robot/$*-arm", "robot/left-arm", true},
		{"robot/$*-arm", "robot/left-leg", false},
		{"robot/l$*", "robot/$*arm", true},
		{"robot/l$*x", "robot/r$*", false},
		{"a/b", "a/b/c", false},
	}
	for _, tc := range cases {
		a, b := MustNew(tc.a), MustNew(tc.b)
		if got := Intersects(a, b); got != tc.want {
			t.Fatalf("Intersects(%q,%q)=%v want %v", tc.a, tc.b, got, tc.want)
		}
		if got := b.Intersects(a); got != tc.want {
			t.Fatalf("Intersects(%q,%q)=%v want %v (reversed)", tc.b, tc.a, got, tc.want)
		}
	}
}
