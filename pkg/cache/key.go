package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix starts every cache key written by this package.
const KeyPrefix = "acct"

// Key identifies a cached API response.
type Key struct {
	// Path is the resource path relative to the API base (e.g. "/customers/{id}")
	Path string

	// Query holds query parameters that change the response
	Query url.Values

	// Tenant separates companies sharing one cache; empty means "default"
	Tenant string
}

// String generates a deterministic cache key.
// Format: acct:<tenant>:<path>:q1=v1:q2=v2
//
// Example:
//
//	acct:default:customers/4f2c:$select=Name
func (k Key) String() string {
	tenant := k.Tenant
	if tenant == "" {
		tenant = "default"
	}
	parts := []string{KeyPrefix, tenant}

	if path := strings.Trim(k.Path, "/"); path != "" {
		parts = append(parts, path)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(values, ",")))
		}
	}

	return strings.Join(parts, ":")
}

// TenantPattern returns a Redis match pattern covering every key of tenant.
func TenantPattern(tenant string) string {
	return Key{Tenant: tenant}.String() + ":*"
}
