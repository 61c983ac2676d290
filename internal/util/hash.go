package util

import (
	"fmt"
	"hash/fnv"
)

// ShortTag hashes an identity to eight hex digits for log lines. It is for
// display only and not guaranteed unique.
func ShortTag(id string) string {
	if id == "" {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%08x", h.Sum32())
}
