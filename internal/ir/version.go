package ir

// SchemaVersion is the persisted layout version of the local store.
// It only ever increases; every step is additive.
const SchemaVersion = 2
