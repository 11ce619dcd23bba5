package agent

import "time"

// Config carries the agent's file locations and connection options.
// Zero values fall back to service defaults.
type Config struct {
	// DataDir holds the badger database with the controller registry.
	DataDir string

	// MappingConfig is the key mapping file (JSON or YAML object of
	// button name to key name).
	MappingConfig string

	// Adapter is the BlueZ adapter name, e.g. "hci0".
	Adapter string

	// Address pins a controller MAC address and skips scanning.
	Address string

	ScanTimeout time.Duration
	RepeatDelay time.Duration
}
