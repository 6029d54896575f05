package redis

import "strings"

const (
	keyNamespace      = "pc"
	idempotencyPrefix = "idempotency"
	channelPrefix     = "ch"
)

// IdempotencyKey namespaces a stored idempotency record.
func (c *Client) IdempotencyKey(scope, id string) string {
	return namespaced(idempotencyPrefix, scope, id)
}

// ChannelKey namespaces a pub/sub channel.
func (c *Client) ChannelKey(name string) string {
	return namespaced(channelPrefix, name)
}

// namespaced joins the non-empty parts under keyNamespace with ":".
func namespaced(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
