package arch

import (
	"fmt"
	"sort"
	"strings"
)

// Architecture is the target system architecture recorded in a stemcell's
// cloud properties.
type Architecture string

const (
	X86_64  Architecture = "x86_64"
	I386    Architecture = "i386"
	AArch64 Architecture = "aarch64"
)

// Supported returns the architectures a stemcell can be built for.
func Supported() []Architecture {
	return []Architecture{X86_64, I386, AArch64}
}

// IsValid reports whether a is one of the supported architectures.
func (a Architecture) IsValid() bool {
	switch a {
	case X86_64, I386, AArch64:
		return true
	default:
		return false
	}
}

func (a Architecture) String() string {
	return string(a)
}

// Parse returns the canonical Architecture for value or an error if it is unsupported.
func Parse(value string) (Architecture, error) {
	if a := Normalize(value); a != "" {
		return a, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps the aliases used by distributions and VM tools onto a
// canonical Architecture. Returns "" when value is not recognized.
func Normalize(value string) Architecture {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(X86_64), "x86-64", "amd64", "x64":
		return X86_64
	case string(I386), "i686", "x86", "386":
		return I386
	case string(AArch64), "arm64":
		return AArch64
	default:
		return ""
	}
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
