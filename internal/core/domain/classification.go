package domain

import "strings"

// Category is the canonical failure category produced by the classifier.
type Category string

const (
	CategoryCodeDefect     Category = "CodeDefect"
	CategoryInfrastructure Category = "InfrastructureIssue"
	CategoryFlakyTest      Category = "FlakyTest"
	CategoryDataIssue      Category = "DataIssue"
	CategoryUnknown        Category = "Unknown"
)

// Categories lists every canonical category.
var Categories = []Category{
	CategoryCodeDefect,
	CategoryInfrastructure,
	CategoryFlakyTest,
	CategoryDataIssue,
	CategoryUnknown,
}

// categoryAliases maps labels emitted by older classifier prompts onto the
// canonical set.
var categoryAliases = map[string]Category{
	"codedefect":              CategoryCodeDefect,
	"assertion failure":       CategoryCodeDefect,
	"application logic error": CategoryCodeDefect,
	"infrastructureissue":     CategoryInfrastructure,
	"environment issue":       CategoryInfrastructure,
	"network error":           CategoryInfrastructure,
	"flakytest":               CategoryFlakyTest,
	"timeout or sync issue":   CategoryFlakyTest,
	"dataissue":               CategoryDataIssue,
	"test data issue":         CategoryDataIssue,
	"unknown":                 CategoryUnknown,
}

// ParseCategory normalizes a classifier label. The second return value is
// false when the label is not recognized.
func ParseCategory(label string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(label))]
	return c, ok
}

// Classification is the classifier's assessment of one failed attempt.
type Classification struct {
	Category   Category `json:"category"`
	Retryable  bool     `json:"retryable"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale,omitempty"`
	Signals    []string `json:"signals,omitempty"`

	// Synthetic marks classifications the engine produced itself
	// (gateway failure, runner infrastructure failure).
	Synthetic bool `json:"synthetic,omitempty"`
}

// UnknownClassification is the conservative fallback used when the
// classifier is unreachable or returns garbage.
func UnknownClassification(rationale string) *Classification {
	return &Classification{
		Category:   CategoryUnknown,
		Retryable:  false,
		Confidence: 0.0,
		Rationale:  rationale,
		Synthetic:  true,
	}
}

// InfrastructureClassification marks attempts that errored because the
// runner itself failed, not the test.
func InfrastructureClassification(rationale string) *Classification {
	return &Classification{
		Category:   CategoryInfrastructure,
		Retryable:  true,
		Confidence: 1.0,
		Rationale:  rationale,
		Synthetic:  true,
	}
}
