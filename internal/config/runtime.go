package config

import (
	"sync"
)

// RuntimeConfig stores configuration set at runtime via CLI flags.
// These values are not persisted to config files.
type RuntimeConfig struct {
	mu           sync.RWMutex
	allowScripts bool
}

var globalRuntime = &RuntimeConfig{}

// SetAllowScripts enables or disables "Run Script" event actions.
// They are disabled by default.
func SetAllowScripts(allow bool) {
	globalRuntime.mu.Lock()
	defer globalRuntime.mu.Unlock()
	globalRuntime.allowScripts = allow
}

// IsScriptAllowed returns whether "Run Script" event actions may run.
func IsScriptAllowed() bool {
	globalRuntime.mu.RLock()
	defer globalRuntime.mu.RUnlock()
	return globalRuntime.allowScripts
}
