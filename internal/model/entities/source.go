package entities

// SourceKind distinguishes rain barrels from the drinking-water mains.
type SourceKind string

const (
	SourceBarrel SourceKind = "barrel"
	SourceMains  SourceKind = "mains"
)

// WaterSource is a supply line with its own ball-valve relay. A source
// serves at most one zone at a time.
type WaterSource struct {
	ID           string     `json:"id"`
	Kind         SourceKind `json:"kind"`
	RelayChannel int        `json:"relay_channel"`
	Available    bool       `json:"available"`
}
