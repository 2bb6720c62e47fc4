package matcher

import "net/netip"

// OptimizeIPRanges rewrites a rule tree into a behavior-preserving but
// potentially smaller form (spec section 4.1 / section 8's testable
// property: "for every ip, optimized.matches <-> original.matches"). The
// only rewrite this pass performs is CIDR supernetting: fusing the pair of
// plain, non-negated IP/network entries under a shared Or relation that
// together cover exactly their parent CIDR, and dropping a network entry
// already subsumed by a wider sibling. Everything else - And relations,
// negated entries, non-IP entries - passes through unchanged; fusing those
// would risk changing which locations a match reports, which the property
// doesn't ask for and the invariant in spec section 4.1 ("matched locations
// are the union" for And, "first match's locations" for Or) doesn't permit
// for free.
func OptimizeIPRanges(rule GlobalFilterRule) GlobalFilterRule {
	if !rule.IsRelation {
		return rule
	}

	optimized := make([]GlobalFilterRule, len(rule.Rules))
	for i, sub := range rule.Rules {
		optimized[i] = OptimizeIPRanges(sub)
	}
	if rule.Relation == Or {
		optimized = fuseIPEntries(optimized)
	}
	return GlobalFilterRule{IsRelation: true, Relation: rule.Relation, Rules: optimized}
}

// fuseIPEntries merges the plain, non-negated IP/network entries among an
// Or relation's direct children, leaving every other child untouched.
func fuseIPEntries(children []GlobalFilterRule) []GlobalFilterRule {
	var prefixes []netip.Prefix
	var rest []GlobalFilterRule
	for _, c := range children {
		if p, ok := ipPrefix(c); ok {
			prefixes = append(prefixes, p)
			continue
		}
		rest = append(rest, c)
	}
	if len(prefixes) < 2 {
		return children
	}

	prefixes = dedupSubsumed(prefixes)
	prefixes = fusePrefixes(prefixes)

	out := make([]GlobalFilterRule, 0, len(rest)+len(prefixes))
	out = append(out, rest...)
	for _, p := range prefixes {
		out = append(out, Ent(GlobalFilterEntry{Kind: ENetwork, Network: p}))
	}
	return out
}

// ipPrefix extracts the network a plain (non-negated) IP or Network entry
// matches, as a masked Prefix - a bare IP becomes a host /32 or /128 route.
func ipPrefix(rule GlobalFilterRule) (netip.Prefix, bool) {
	if rule.IsRelation || rule.Entry.Negated {
		return netip.Prefix{}, false
	}
	switch rule.Entry.Kind {
	case EIP:
		return netip.PrefixFrom(rule.Entry.IP, rule.Entry.IP.BitLen()).Masked(), true
	case ENetwork:
		return rule.Entry.Network.Masked(), true
	default:
		return netip.Prefix{}, false
	}
}

// dedupSubsumed drops any prefix already covered by a strictly wider one in
// the set - matching it would never add an IP the wider entry doesn't
// already match, since Or only needs one matching child.
func dedupSubsumed(prefixes []netip.Prefix) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(prefixes))
	for i, p := range prefixes {
		subsumed := false
		for j, q := range prefixes {
			if i == j || q.Bits() >= p.Bits() {
				continue
			}
			if q.Contains(p.Addr()) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			out = append(out, p)
		}
	}
	return out
}

// fusePrefixes repeatedly merges the pair of prefixes that are exactly the
// two halves of a shared parent CIDR, until no more merges apply.
func fusePrefixes(prefixes []netip.Prefix) []netip.Prefix {
	for {
		merged, ok := fuseOnePair(prefixes)
		if !ok {
			return prefixes
		}
		prefixes = merged
	}
}

func fuseOnePair(prefixes []netip.Prefix) ([]netip.Prefix, bool) {
	for i := 0; i < len(prefixes); i++ {
		for j := i + 1; j < len(prefixes); j++ {
			p, q := prefixes[i], prefixes[j]
			if p.Bits() <= 0 || p.Bits() != q.Bits() || p == q {
				continue
			}
			parentBits := p.Bits() - 1
			pp, err1 := p.Addr().Prefix(parentBits)
			qp, err2 := q.Addr().Prefix(parentBits)
			if err1 != nil || err2 != nil || pp != qp {
				continue
			}
			out := make([]netip.Prefix, 0, len(prefixes)-1)
			for k, r := range prefixes {
				if k != i && k != j {
					out = append(out, r)
				}
			}
			out = append(out, pp)
			return out, true
		}
	}
	return nil, false
}
