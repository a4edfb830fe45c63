// Package cmdline parses the kernel command line: whitespace separated
// key=value options, with shell-style quoting for values containing spaces.
package cmdline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Cmdline holds parsed options. A nil *Cmdline answers every query with the
// caller's default.
type Cmdline struct {
	raw    string
	keys   []string
	values map[string]string
}

// Parse tokenises s. A bare key is stored with an empty value.
func Parse(s string) (*Cmdline, error) {
	toks, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("cmdline: %w", err)
	}
	c := &Cmdline{raw: s, values: make(map[string]string, len(toks))}
	for _, tok := range toks {
		key, val, _ := strings.Cut(tok, "=")
		if key == "" {
			return nil, fmt.Errorf("cmdline: empty key in %q", tok)
		}
		if _, seen := c.values[key]; !seen {
			c.keys = append(c.keys, key)
		}
		c.values[key] = val
	}
	return c, nil
}

// Get returns the value of key. The last occurrence wins.
func (c *Cmdline) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value of key or def.
func (c *Cmdline) GetString(key, def string) string {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// GetBool treats "0", "false" and "off" as false and any other present
// value, including a bare key, as true.
func (c *Cmdline) GetBool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "false", "off":
		return false
	default:
		return true
	}
}

// GetUint64 returns the numeric value of key, or def if it is absent or
// malformed. Hex values use a 0x prefix.
func (c *Cmdline) GetUint64(key string, def uint64) uint64 {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return def
	}
	return n
}

// Keys returns the option names in first-seen order.
func (c *Cmdline) Keys() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.keys...)
}

func (c *Cmdline) String() string {
	if c == nil {
		return ""
	}
	return c.raw
}
