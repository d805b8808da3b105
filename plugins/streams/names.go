package streams

import "strings"

// ParseChannelList turns the raw configured string into an ordered list of
// distinct lowercase logins. Whitespace runs separate tokens; the first
// occurrence of a name wins. Malformed or empty input yields an empty list.
func ParseChannelList(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		name := strings.ToLower(f)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
