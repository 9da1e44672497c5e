package types

// Timestamp is a write time in microseconds since the Unix epoch.
type Timestamp = int64

// GenerationID identifies one immutable on-disk generation of a store.
type GenerationID = int
