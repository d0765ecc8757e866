package am

import "strings"

const maskedValue = "********"

// sensitiveKeys are masked by Settings
var sensitiveKeys = []string{"records.dsn"}

// Settings returns the merged configuration as a nested map keyed like the
// config file, for display. Sensitive values are masked.
func Settings() map[string]any {
	loadMu.Lock()
	defer loadMu.Unlock()

	all := initViper().AllSettings()
	for _, key := range sensitiveKeys {
		maskKey(all, strings.Split(key, "."))
	}
	return all
}

// ConfigPath returns the highest-precedence config file that was merged,
// or "" when only defaults and environment are in effect
func ConfigPath() string {
	loadMu.Lock()
	defer loadMu.Unlock()

	initViper()
	if len(loadedFiles) == 0 {
		return ""
	}
	return loadedFiles[len(loadedFiles)-1]
}

func maskKey(m map[string]any, path []string) {
	if len(path) == 1 {
		if v, ok := m[path[0]]; ok && v != "" {
			m[path[0]] = maskedValue
		}
		return
	}
	if child, ok := m[path[0]].(map[string]any); ok {
		maskKey(child, path[1:])
	}
}
