package tools

import (
	"os"
	"strings"
)

// GetEnvBool reads a boolean flag from the environment. Unset means def.
func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}
