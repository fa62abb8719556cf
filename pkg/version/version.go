// Package version holds the build version and the TLV protocol version
// advertised over DNS-SD.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the build version. Overridden at link time with
// -ldflags "-X github.com/devmon-project/devmon-go/pkg/version.Version=...".
var Version = "dev"

// Protocol is the TLV protocol version implemented by this module.
const Protocol = "1.0"

// tagPrefix prefixes the protocol tag in the DNS-SD TXT record.
const tagPrefix = "devmon-tlv/"

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	mnr, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(maj), Minor: uint16(mnr)}, nil
}

// Current returns the parsed Protocol version.
func Current() ProtocolVersion {
	v, _ := Parse(Protocol)
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Tag returns the protocol tag for a major version: "devmon-tlv/N".
func Tag(major uint16) string {
	return tagPrefix + strconv.FormatUint(uint64(major), 10)
}

// MajorFromTag extracts the major version from a protocol tag.
func MajorFromTag(tag string) (uint16, error) {
	suffix, ok := strings.CutPrefix(tag, tagPrefix)
	if !ok {
		return 0, fmt.Errorf("not a devmon protocol tag: %q", tag)
	}
	if suffix == "" {
		return 0, fmt.Errorf("empty major version in tag: %q", tag)
	}

	major, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid major version in tag %q: %w", tag, err)
	}
	return uint16(major), nil
}

// Supported reports whether a peer advertising tag speaks a protocol
// compatible with this module.
func Supported(tag string) bool {
	major, err := MajorFromTag(tag)
	if err != nil {
		return false
	}
	return major == Current().Major
}
