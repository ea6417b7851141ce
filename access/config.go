package access

import (
	"strings"

	"github.com/ceresfs/mgm/cmn"
)

const (
	kommaEscape = "_#KOMMA#_"
	tildeEscape = "_#TILDE#_"
)

// escapeComment and unescapeComment reproduce the teacher's on-disk
// encoding for a stall/redirect rule's free-text comment: `,` and `~`
// must not collide with the record and field separators, so they are
// round-tripped through a pair of sentinel tokens.
func escapeComment(c string) string {
	c = strings.ReplaceAll(c, ",", kommaEscape)
	c = strings.ReplaceAll(c, "~", tildeEscape)
	return c
}

func unescapeComment(c string) string {
	c = strings.ReplaceAll(c, kommaEscape, ",")
	c = strings.ReplaceAll(c, tildeEscape, "~")
	return c
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func encodeRuleTable(rules map[string]Rule) string {
	recs := make([]string, 0, len(rules))
	for key, r := range rules {
		recs = append(recs, key+"~"+r.Value+"~"+escapeComment(r.Comment))
	}
	return strings.Join(recs, ",")
}

func decodeRuleTable(s string) map[string]Rule {
	out := make(map[string]Rule)
	for _, rec := range splitNonEmpty(s, ",") {
		parts := strings.SplitN(rec, "~", 3)
		if len(parts) != 3 {
			continue
		}
		key, value, comment := parts[0], parts[1], unescapeComment(parts[2])
		out[key] = Rule{Key: key, Value: value, Comment: comment, IsGlobal: key == "*"}
	}
	return out
}

// EncodeRule and DecodeRule expose the single-record form, used when a
// CLI or RPC handler needs to round-trip exactly one rule without
// touching the whole table.
func EncodeRule(key string, r Rule) string {
	return key + "~" + r.Value + "~" + escapeComment(r.Comment)
}

func DecodeRule(rec string) (key string, r Rule, ok bool) {
	parts := strings.SplitN(rec, "~", 3)
	if len(parts) != 3 {
		return "", Rule{}, false
	}
	key = parts[0]
	r = Rule{Key: key, Value: parts[1], Comment: unescapeComment(parts[2]), IsGlobal: key == "*"}
	return key, r, true
}

// ApplyAccessConfig reads the four ban/allow strings and the two rule
// tables out of a cmn.AccessConf snapshot and installs them, replacing
// whatever the policy currently holds.
func (p *Policy) ApplyAccessConfig(conf cmn.AccessConf) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bannedUsers = cmn.NewStringSet(splitNonEmpty(conf.BannedUsers, ":")...)
	p.bannedGroups = cmn.NewStringSet(splitNonEmpty(conf.BannedGroups, ":")...)
	p.bannedHosts = cmn.NewStringSet(splitNonEmpty(conf.BannedHosts, ":")...)
	p.bannedDomains = cmn.NewStringSet(splitNonEmpty(conf.BannedDomains, ":")...)

	p.allowedUsers = cmn.NewStringSet(splitNonEmpty(conf.AllowedUsers, ":")...)
	p.allowedGroups = cmn.NewStringSet(splitNonEmpty(conf.AllowedGroups, ":")...)
	p.allowedHosts = cmn.NewStringSet(splitNonEmpty(conf.AllowedHosts, ":")...)
	p.allowedDomains = cmn.NewStringSet(splitNonEmpty(conf.AllowedDomains, ":")...)

	p.stallRules = decodeRuleTable(conf.StallRules)
	p.redirectRules = decodeRuleTable(conf.RedirectRules)
}

// StoreAccessConfig renders the current in-memory state back into the
// same wire format ApplyAccessConfig reads, so the two compose to the
// identity per the round-trip law.
func (p *Policy) StoreAccessConfig() cmn.AccessConf {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cmn.AccessConf{
		BannedUsers:    strings.Join(p.bannedUsers.ToSlice(), ":"),
		BannedGroups:   strings.Join(p.bannedGroups.ToSlice(), ":"),
		BannedHosts:    strings.Join(p.bannedHosts.ToSlice(), ":"),
		BannedDomains:  strings.Join(p.bannedDomains.ToSlice(), ":"),
		AllowedUsers:   strings.Join(p.allowedUsers.ToSlice(), ":"),
		AllowedGroups:  strings.Join(p.allowedGroups.ToSlice(), ":"),
		AllowedHosts:   strings.Join(p.allowedHosts.ToSlice(), ":"),
		AllowedDomains: strings.Join(p.allowedDomains.ToSlice(), ":"),
		StallRules:     encodeRuleTable(p.stallRules),
		RedirectRules:  encodeRuleTable(p.redirectRules),
	}
}
