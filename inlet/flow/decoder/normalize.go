// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package decoder

import (
	"fmt"
	"net/netip"
	"strings"

	"cnetflow/common/helpers"
)

// NormalizationPolicy selects how source and destination of a flow
// are oriented.
type NormalizationPolicy int

const (
	// NormalizeNone keeps records as exported.
	NormalizeNone NormalizationPolicy = iota
	// NormalizePort swaps when the destination port is above the source port.
	NormalizePort
	// NormalizePrivate swaps when the source is not in a private
	// network, or when both are and the destination port is above the
	// source port.
	NormalizePrivate
)

var normalizationPolicies = map[NormalizationPolicy]string{
	NormalizeNone:    "none",
	NormalizePort:    "port",
	NormalizePrivate: "private",
}

func (p NormalizationPolicy) String() string {
	if s, ok := normalizationPolicies[p]; ok {
		return s
	}
	return "unknown"
}

// MarshalText turns a policy into text.
func (p NormalizationPolicy) MarshalText() ([]byte, error) {
	if s, ok := normalizationPolicies[p]; ok {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("unknown normalization policy %d", p)
}

// UnmarshalText parses a policy.
func (p *NormalizationPolicy) UnmarshalText(input []byte) error {
	in := strings.ToLower(string(input))
	for k, v := range normalizationPolicies {
		if v == in {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown normalization policy %q", string(input))
}

// DefaultPrivateNetworks returns the networks considered private by
// the "private" policy. The policy only applies to IPv4 records.
func DefaultPrivateNetworks() []netip.Prefix {
	return []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}
}

// Normalizer orients flow records according to a policy.
type Normalizer struct {
	policy  NormalizationPolicy
	private *helpers.SubnetMap[bool]
}

// NewNormalizer creates a normalizer. privateNetworks is only used by
// NormalizePrivate.
func NewNormalizer(policy NormalizationPolicy, privateNetworks []netip.Prefix) (*Normalizer, error) {
	n := &Normalizer{policy: policy}
	if policy != NormalizePrivate {
		return n, nil
	}
	networks := make(map[netip.Prefix]bool, len(privateNetworks))
	for _, prefix := range privateNetworks {
		if !prefix.IsValid() {
			return nil, fmt.Errorf("invalid private network %q", prefix)
		}
		networks[prefix] = true
	}
	sm := helpers.NewSubnetMap(networks)
	n.private = sm
	return n, nil
}

// Policy returns the policy used by the normalizer.
func (n *Normalizer) Policy() NormalizationPolicy {
	return n.policy
}

// IsPrivate tells if the provided address belongs to a private network.
func (n *Normalizer) IsPrivate(addr netip.Addr) bool {
	return n.private.LookupOrDefault(addr, false)
}

// Normalize orients the record in place and returns true if source
// and destination were swapped. With the "private" policy, IPv6 records
// are left untouched.
func (n *Normalizer) Normalize(r *FlowRecord) bool {
	var swap bool
	switch n.policy {
	case NormalizePort:
		swap = r.DstPort > r.SrcPort
	case NormalizePrivate:
		if !r.SrcAddr.Unmap().Is4() || !r.DstAddr.Unmap().Is4() {
			return false
		}
		swap = !n.IsPrivate(r.SrcAddr) || (n.IsPrivate(r.DstAddr) && r.DstPort > r.SrcPort)
	}
	if swap {
		r.SrcAddr, r.DstAddr = r.DstAddr, r.SrcAddr
		r.SrcPort, r.DstPort = r.DstPort, r.SrcPort
		r.InIf, r.OutIf = r.OutIf, r.InIf
	}
	return swap
}
