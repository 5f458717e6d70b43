package models

import "time"

// Setting is a persisted key/value entry in plugin_settings.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
