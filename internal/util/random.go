// Package util provides small helpers shared across RunPipe components.
package util

import (
	"math/rand"
	"strings"
)

const (
	// SourceIDPrefix prefixes ids of saved data sources.
	SourceIDPrefix = "src_"
	// PullIDPrefix prefixes ids of recorded data pulls.
	PullIDPrefix = "pull_"
	// idHexLength is the number of random hex characters after the prefix.
	idHexLength = 24
)

// GenerateRandomID returns "{prefix}{hex}" with hexLength random hex characters.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random lowercase hexadecimal string.
// Not suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.Intn(16)])
	}

	return builder.String()
}

// GenerateSourceID generates an id for a new data source.
func GenerateSourceID() string {
	return GenerateRandomID(SourceIDPrefix, idHexLength)
}

// GeneratePullID generates an id for a pull log entry.
func GeneratePullID() string {
	return GenerateRandomID(PullIDPrefix, idHexLength)
}
