package storage

import (
	"fmt"
	"strings"
)

// shardTable maps an agent type to its invocation table name.
// Agent types are caller-controlled strings, so the name is normalized to
// [a-z0-9_] before being interpolated into DDL/DML — identifiers cannot be
// bound as query parameters.
func shardTable(agentType string) (string, error) {
	norm := normalizeShard(agentType)
	if norm == "" {
		return "", fmt.Errorf("storage: agent type %q normalizes to empty shard name", agentType)
	}
	return "invocations_" + norm, nil
}

func normalizeShard(agentType string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(agentType)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == ' ', r == '.':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
