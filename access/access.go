// Package access implements the process-wide AccessPolicy singleton: ban
// and allow lists, and the stall/redirect rule tables that gate every
// mutating and read-only request.
package access

import (
	"strings"
	"sync"

	"github.com/ceresfs/mgm/cmn"
)

// RuleKind distinguishes a stall rule from a redirect rule; both share the
// same wire encoding.
type RuleKind int

const (
	KindStall RuleKind = iota
	KindRedirect
)

// Rule is one entry of the stall or redirect table: a delay/target value,
// a free-text comment, and whether it was installed as a global ("*")
// rule — carried so SetStallRule's caller can restore the prior rule
// verbatim.
type Rule struct {
	Key      string
	Value    string
	Comment  string
	IsGlobal bool
}

// Policy is the singleton described in 4.B: four ban sets mirrored by
// four allow sets, two string-keyed rule tables, one reader-writer lock.
type Policy struct {
	mu sync.RWMutex

	bannedUsers   cmn.StringSet
	bannedGroups  cmn.StringSet
	bannedHosts   cmn.StringSet
	bannedDomains cmn.StringSet

	allowedUsers   cmn.StringSet
	allowedGroups  cmn.StringSet
	allowedHosts   cmn.StringSet
	allowedDomains cmn.StringSet

	stallRules    map[string]Rule
	redirectRules map[string]Rule
}

func New() *Policy {
	p := &Policy{}
	p.Reset()
	return p
}

// Reset clears every set and rule table back to empty.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bannedUsers = cmn.NewStringSet()
	p.bannedGroups = cmn.NewStringSet()
	p.bannedHosts = cmn.NewStringSet()
	p.bannedDomains = cmn.NewStringSet()
	p.allowedUsers = cmn.NewStringSet()
	p.allowedGroups = cmn.NewStringSet()
	p.allowedHosts = cmn.NewStringSet()
	p.allowedDomains = cmn.NewStringSet()
	p.stallRules = make(map[string]Rule)
	p.redirectRules = make(map[string]Rule)
}

func (p *Policy) IsUserBanned(uid string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bannedUsers.Has(uid)
}

func (p *Policy) IsGroupBanned(gid string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bannedGroups.Has(gid)
}

func (p *Policy) IsHostBanned(host string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bannedHosts.Has(host)
}

func (p *Policy) IsDomainBanned(domain string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bannedDomains.Has(domain)
}

// StallGlobal, StallRead, StallWrite, StallUserGroup are the derived
// invariant flags from §8: they must always agree with the rule table's
// contents, so they are computed, never cached.
func (p *Policy) StallGlobal() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.stallRules["*"]
	return ok
}

func (p *Policy) StallRead() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.stallRules["r:*"]
	return ok
}

func (p *Policy) StallWrite() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.stallRules["w:*"]
	return ok
}

func (p *Policy) StallUserGroup() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k := range p.stallRules {
		if strings.HasPrefix(k, "rate:") {
			return true
		}
	}
	return false
}

// SetStallRule atomically installs rule under key, returning the
// previous rule (and whether one existed) so the caller can restore it
// later.
func (p *Policy) SetStallRule(key string, rule Rule) (prev Rule, existed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, existed = p.stallRules[key]
	rule.IsGlobal = key == "*"
	p.stallRules[key] = rule
	return
}

func (p *Policy) ClearStallRule(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stallRules, key)
}

func (p *Policy) SetRedirectRule(key string, rule Rule) (prev Rule, existed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, existed = p.redirectRules[key]
	p.redirectRules[key] = rule
	return
}

func (p *Policy) ClearRedirectRule(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.redirectRules, key)
}

func (p *Policy) StallRule(key string) (Rule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.stallRules[key]
	return r, ok
}

func (p *Policy) RedirectRule(key string) (Rule, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.redirectRules[key]
	return r, ok
}

// GetFindLimits implements the three-tier lookup: per-user rate rule,
// then per-group, then the wildcard user rule; first hit wins. kind is
// "FindFiles" or "FindDirs".
func (p *Policy) GetFindLimits(uid, gid, kind string) (limit string, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, key := range []string{
		"rate:user:" + uid + ":" + kind,
		"rate:group:" + gid + ":" + kind,
		"rate:user:*:" + kind,
	} {
		if r, found := p.stallRules[key]; found {
			return r.Value, true
		}
	}
	return "", false
}
