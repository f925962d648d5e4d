// Package storageclass defines S3 storage classes as seen in object listings.
package storageclass

import "strings"

// Class is an object storage tier.
type Class uint8

// Storage classes reported by ListObjectsV2. Anything unrecognised maps to Other.
const (
	Standard Class = iota
	StandardIA
	OneZoneIA
	IntelligentTiering
	GlacierIR
	Glacier
	DeepArchive
	ReducedRedundancy
	Other
)

var names = [...]string{
	Standard:           "STANDARD",
	StandardIA:         "STANDARD_IA",
	OneZoneIA:          "ONEZONE_IA",
	IntelligentTiering: "INTELLIGENT_TIERING",
	GlacierIR:          "GLACIER_IR",
	Glacier:            "GLACIER",
	DeepArchive:        "DEEP_ARCHIVE",
	ReducedRedundancy:  "REDUCED_REDUNDANCY",
	Other:              "OTHER",
}

var byName = func() map[string]Class {
	m := make(map[string]Class, len(names))
	for i, n := range names {
		m[n] = Class(i)
	}
	return m
}()

// Parse maps a storage class name to a Class. An empty name means STANDARD,
// which is how S3 reports objects stored without an explicit class.
func Parse(name string) Class {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return Standard
	}
	if c, ok := byName[name]; ok {
		return c
	}
	return Other
}

// String returns the S3 name of the class.
func (c Class) String() string {
	if int(c) < len(names) {
		return names[c]
	}
	return names[Other]
}

// IsArchival reports whether reading an object of this class requires a
// restore first. Instant-retrieval Glacier is readable and is not archival.
func (c Class) IsArchival() bool {
	return c == Glacier || c == DeepArchive
}
