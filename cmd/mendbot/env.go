// Mendbot - conversational medication companion
// License: MIT

package main

import (
	"fmt"
	"os"
	"strings"
)

// loadEnvFile reads KEY=VALUE pairs from path into the process
// environment. Variables already set in the process win. Supports
// comments, `export` prefixes, and single/double quoting; double
// quotes interpret \n, \t, \" and \\ escapes.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for i, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		eq := strings.Index(line, "=")
		if eq < 0 {
			return fmt.Errorf("%s:%d: missing '=' in %q", path, i+1, strings.TrimSpace(raw))
		}

		key := strings.TrimSpace(line[:eq])
		if key == "" {
			return fmt.Errorf("%s:%d: empty key", path, i+1)
		}

		value, err := parseEnvValue(strings.TrimSpace(line[eq+1:]))
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, i+1, err)
		}

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}
	return nil
}

func parseEnvValue(v string) (string, error) {
	if v == "" {
		return "", nil
	}

	switch v[0] {
	case '"', '\'':
		quote := v[0]
		var b strings.Builder
		for i := 1; i < len(v); i++ {
			ch := v[i]
			if quote == '"' && ch == '\\' && i+1 < len(v) {
				i++
				switch v[i] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				case '"':
					b.WriteByte('"')
				case '\\':
					b.WriteByte('\\')
				default:
					b.WriteByte('\\')
					b.WriteByte(v[i])
				}
				continue
			}
			if ch == quote {
				// anything after the closing quote is a comment
				return b.String(), nil
			}
			b.WriteByte(ch)
		}
		return "", fmt.Errorf("unterminated quote")
	default:
		if idx := strings.Index(v, "#"); idx >= 0 {
			v = strings.TrimSpace(v[:idx])
		}
		return v, nil
	}
}
