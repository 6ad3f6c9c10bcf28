package config

import (
	"fmt"
	"os"
	"strings"
)

// resolvePlaceholders expands {$NAME} and {$NAME:default} against the
// process environment. Unset variables without a default become empty
// strings with a warning.
func resolvePlaceholders(in string) (string, []string, []string) {
	var errs []string
	var warns []string

	var out strings.Builder
	out.Grow(len(in))

	for i := 0; i < len(in); {
		if !strings.HasPrefix(in[i:], "{$") {
			out.WriteByte(in[i])
			i++
			continue
		}

		end := strings.IndexByte(in[i+2:], '}')
		if end == -1 {
			errs = append(errs, "unterminated {$...} placeholder")
			out.WriteString(in[i:])
			break
		}
		body := in[i+2 : i+2+end]
		name, def, hasDef := strings.Cut(body, ":")
		if name == "" {
			errs = append(errs, "empty env var in {$...} placeholder")
		}
		val, ok := os.LookupEnv(name)
		if !ok {
			if hasDef {
				val = def
			} else {
				val = ""
				if name != "" {
					warns = append(warns, fmt.Sprintf("env var %q not set; replaced with empty string", name))
				}
			}
		}
		out.WriteString(val)
		i += 2 + end + 1
	}

	return out.String(), errs, warns
}

func resolveValue(in, field string, res *ValidationResult) string {
	val, errs, warns := resolvePlaceholders(in)
	for _, err := range errs {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", field, err))
	}
	for _, warn := range warns {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", field, warn))
	}
	return val
}
