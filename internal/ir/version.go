package ir

// Version constants for the configuration format and engine.
const (
	// ConfigVersion is the configuration schema version.
	ConfigVersion = "1"

	// EngineVersion is the fieldlogic engine version.
	EngineVersion = "0.1.0"
)
