// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package helpers

import (
	"net/netip"

	"github.com/kentik/patricia"
	tree "github.com/kentik/patricia/generics_tree"
)

// SubnetMap maps subnets to values and allow to lookup by IP address.
// Internally, everything is stored as an IPv6 (using v6-mapped IPv4
// addresses).
type SubnetMap[V any] struct {
	tree *tree.TreeV6[V]
	size int
}

// NewSubnetMap creates a subnet map from a map of prefixes. Prefixes
// are masked before insertion.
func NewSubnetMap[V any](from map[netip.Prefix]V) *SubnetMap[V] {
	trie := tree.NewTreeV6[V]()
	for prefix, v := range from {
		prefix = prefixTo6(prefix.Masked())
		a16 := prefix.Addr().As16()
		trie.Set(patricia.NewIPv6Address(a16[:], uint(prefix.Bits())), v)
	}
	return &SubnetMap[V]{tree: trie, size: len(from)}
}

// Lookup will search for the most specific subnet matching the
// provided IP address and return the value associated with it.
func (sm *SubnetMap[V]) Lookup(ip netip.Addr) (V, bool) {
	if sm == nil || sm.tree == nil || !ip.IsValid() {
		var value V
		return value, false
	}
	a16 := ip.As16()
	ok, value := sm.tree.FindDeepestTag(patricia.NewIPv6Address(a16[:], 128))
	return value, ok
}

// LookupOrDefault calls lookup and if not found, will return the
// provided default value.
func (sm *SubnetMap[V]) LookupOrDefault(ip netip.Addr, fallback V) V {
	if value, ok := sm.Lookup(ip); ok {
		return value
	}
	return fallback
}

// Len returns the number of subnets in the map.
func (sm *SubnetMap[V]) Len() int {
	if sm == nil {
		return 0
	}
	return sm.size
}

func prefixTo6(prefix netip.Prefix) netip.Prefix {
	if prefix.Addr().Is4() {
		return netip.PrefixFrom(netip.AddrFrom16(prefix.Addr().As16()), prefix.Bits()+96)
	}
	return prefix
}
