package models

import "time"

// Well-known db_config keys
const (
	ConfigKeySchemaVersion = "schema_version"
	ConfigKeyReadLock      = "read_lock"
)

// ConfigEntry is a row of the db_config key/value table. Val is nil when
// the row holds no value, e.g. an unlocked read_lock.
type ConfigEntry struct {
	Key      string    `json:"key"`
	Val      *string   `json:"val,omitempty"`
	Modified time.Time `json:"modified"`
}
