// Package keys builds the cache keys of the capability memo.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

const prefix = "caps"

// Capabilities returns caps:<wfs|wms>:<xxhash64 of the service URL as hex>.
// Surrounding whitespace and a trailing ? or & do not change the key.
func Capabilities(t model.ServiceType, serviceURL string) string {
	u := normalizeURL(serviceURL)
	return fmt.Sprintf("%s:%s:%016x", prefix, strings.ToLower(string(t)), xxhash.Sum64String(u))
}

func normalizeURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "?&")
}
