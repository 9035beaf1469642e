package cache

import "fmt"

// UsageKey is the Redis hash holding usage counters for one API key.
func UsageKey(keyID int64) string {
	return fmt.Sprintf("keyguard:usage:%d", keyID)
}
