package config

import "time"

// MountOptions holds high-level settings for mounting over FUSE.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug  bool   // fuse debug logs
	FsName string // mount's FsName
	Name   string // mount's Name
}

// Timeouts converts the FUSE cache timeouts in seconds to durations.
func (c *Config) Timeouts() (attr, entry time.Duration) {
	return time.Duration(c.AttrTimeout * float64(time.Second)),
		time.Duration(c.EntryTimeout * float64(time.Second))
}
