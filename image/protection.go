package image

import "strings"

// ProtectionList is a set of partition names that must not be overwritten.
// The zero value protects nothing.
type ProtectionList map[string]struct{}

// ParseProtection builds a protection list from names separated by ',' or ';'
// as found in the "protection=" key of bootcfg.txt.
//
// Example:
//
//	protect := image.ParseProtection("user,env;env_r")
func ParseProtection(s string) ProtectionList {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}

	pl := make(ProtectionList, len(fields))
	for _, f := range fields {
		pl[f] = struct{}{}
	}
	return pl
}

// Contains reports whether name is protected.
func (pl ProtectionList) Contains(name string) bool {
	_, ok := pl[name]
	return ok
}

// Protects reports whether any partition of c is protected. A component is
// written to all of its partitions or to none.
func (pl ProtectionList) Protects(c *Component) bool {
	if len(pl) == 0 {
		return false
	}
	for _, p := range c.Partitions() {
		if pl.Contains(p) {
			return true
		}
	}
	return false
}
