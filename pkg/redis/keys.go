package redis

import "strings"

// Every key the service writes lives under rl:<kind>:...
const (
	keyNamespace      = "rl"
	idempotencyPrefix = "idempotency"
	catalogPrefix     = "catalog"
	lockPrefix        = "lock"
)

func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(idempotencyPrefix, scope, id)
}

// CatalogKey returns the cache key for a catalog item's costing policy.
func (c *Client) CatalogKey(itemID string) string {
	return joinKey(catalogPrefix, "item", itemID)
}

// LockKey namespaces a distributed lock name.
func (c *Client) LockKey(name string) string {
	return joinKey(lockPrefix, name)
}

// joinKey drops blank parts so a missing id never yields "a::b".
func joinKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
