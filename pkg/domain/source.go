package domain

// SourceKind defines how a source's target is fetched and interpreted
type SourceKind string

// supported source kinds
const (
	SourceHTML SourceKind = "html" // article page, extracted with trafilatura
	SourceFeed SourceKind = "feed" // RSS/Atom feed, parsed into individual articles
)

// Source describes a single external source to ingest.
// It is immutable for the duration of a batch run.
type Source struct {
	ID           string     `yaml:"id" json:"id"`
	URL          string     `yaml:"url" json:"url"`
	Kind         SourceKind `yaml:"kind" json:"kind"`
	MaxItems     int        `yaml:"max_items" json:"max_items"`         // 0 means no limit
	Region       string     `yaml:"region" json:"region"`               // optional region hint
	CategoryHint string     `yaml:"category_hint" json:"category_hint"` // optional known category
}
