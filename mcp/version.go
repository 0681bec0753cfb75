package mcp

import (
	"fmt"
	"sort"
)

// ProtocolVersion is an MCP protocol revision. Revisions are dates, so the
// lexical order is the chronological order.
type ProtocolVersion string

const (
	ProtocolVersion20241105 ProtocolVersion = "2024-11-05"
	ProtocolVersion20250326 ProtocolVersion = "2025-03-26"
	ProtocolVersion20250618 ProtocolVersion = "2025-06-18"
)

// SupportedProtocolVersions lists every revision this client speaks, oldest first.
var SupportedProtocolVersions = []ProtocolVersion{
	ProtocolVersion20241105,
	ProtocolVersion20250326,
	ProtocolVersion20250618,
}

// Less reports whether v is an older revision than other.
func (v ProtocolVersion) Less(other ProtocolVersion) bool {
	return v < other
}

// IsKnown reports whether v is one of SupportedProtocolVersions.
func (v ProtocolVersion) IsKnown() bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// LatestProtocolVersion returns the newest revision in versions, or "" for an empty set.
func LatestProtocolVersion(versions []ProtocolVersion) ProtocolVersion {
	var latest ProtocolVersion
	for _, v := range versions {
		if latest == "" || latest.Less(v) {
			latest = v
		}
	}
	return latest
}

// NegotiateVersion picks the newest revision both sides support.
func NegotiateVersion(client, server []ProtocolVersion) (ProtocolVersion, error) {
	offered := make(map[ProtocolVersion]struct{}, len(server))
	for _, v := range server {
		offered[v] = struct{}{}
	}

	common := make([]ProtocolVersion, 0, len(client))
	for _, v := range client {
		if _, ok := offered[v]; ok {
			common = append(common, v)
		}
	}
	if len(common) == 0 {
		return "", fmt.Errorf("no common protocol version: client supports %v, server offered %v", client, server)
	}

	sort.Slice(common, func(i, j int) bool { return common[i].Less(common[j]) })
	return common[len(common)-1], nil
}
