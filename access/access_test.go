package access

import (
	"testing"

	"github.com/ceresfs/mgm/cmn"
)

func TestApplyStoreRoundTrip(t *testing.T) {
	conf := cmn.AccessConf{
		BannedUsers:   "1001:1002",
		BannedGroups:  "100",
		AllowedHosts:  "gw1.example:gw2.example",
		StallRules:    "*~100 seconds, namespace is booting~booting, careful",
		RedirectRules: "w:*~master.example~failover",
	}
	p := New()
	p.ApplyAccessConfig(conf)
	got := p.StoreAccessConfig()

	if got.BannedUsers != conf.BannedUsers {
		t.Fatalf("banned users: got %q want %q", got.BannedUsers, conf.BannedUsers)
	}
	if got.StallRules != conf.StallRules {
		t.Fatalf("stall rules: got %q want %q", got.StallRules, conf.StallRules)
	}
	if got.RedirectRules != conf.RedirectRules {
		t.Fatalf("redirect rules: got %q want %q", got.RedirectRules, conf.RedirectRules)
	}
}

func TestStallFlags(t *testing.T) {
	p := New()
	p.ApplyAccessConfig(cmn.AccessConf{StallRules: "*~100 seconds, booting~"})
	if !p.StallGlobal() {
		t.Fatal("expected StallGlobal true")
	}
	if p.StallRead() || p.StallWrite() {
		t.Fatal("expected r:* and w:* false")
	}

	p.Reset()
	p.ApplyAccessConfig(cmn.AccessConf{StallRules: "rate:user:1001:FindFiles~10/s~"})
	if !p.StallUserGroup() {
		t.Fatal("expected StallUserGroup true")
	}
}

func TestSetStallRuleReturnsPrevious(t *testing.T) {
	p := New()
	p.SetStallRule("*", Rule{Value: "100 seconds, booting"})
	prev, existed := p.SetStallRule("*", Rule{Value: "5 seconds, maintenance"})
	if !existed || prev.Value != "100 seconds, booting" {
		t.Fatalf("expected previous rule returned, got %+v existed=%v", prev, existed)
	}
}

func TestGetFindLimitsPriority(t *testing.T) {
	p := New()
	p.ApplyAccessConfig(cmn.AccessConf{StallRules: "rate:group:100:FindFiles~5/s~,rate:user:*:FindFiles~1/s~"})
	limit, ok := p.GetFindLimits("1001", "100", "FindFiles")
	if !ok || limit != "5/s" {
		t.Fatalf("expected group rule to win, got %q ok=%v", limit, ok)
	}
	limit, ok = p.GetFindLimits("1001", "200", "FindFiles")
	if !ok || limit != "1/s" {
		t.Fatalf("expected wildcard fallback, got %q ok=%v", limit, ok)
	}
}

func TestCommentEscaping(t *testing.T) {
	r := Rule{Value: "v", Comment: "has, comma and ~ tilde"}
	rec := EncodeRule("*", r)
	key, decoded, ok := DecodeRule(rec)
	if !ok || key != "*" || decoded.Comment != r.Comment {
		t.Fatalf("round trip failed: %q -> %+v", rec, decoded)
	}
}
