package darkpool

const (
	// EngineVersion is the current version of the dark pool engine
	EngineVersion = "v1.0.0"

	// LedgerSchemaVersion is the current version of the stored record layout
	// Increment this when the record format changes in a backward-incompatible way
	LedgerSchemaVersion = 1
)

const (
	// MaxOrderDataSize is the upper bound of a sealed order payload.
	MaxOrderDataSize = 512
	// MaxMatchDataSize is the upper bound of an encrypted match payload.
	MaxMatchDataSize = 1024
	// MaxOrdersPerSide is the upper bound of each order list of a matching request.
	MaxOrdersPerSide = 50
	// MaxFeeBasisPoints is 100%.
	MaxFeeBasisPoints = 10_000
)
