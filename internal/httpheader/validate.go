package httpheader

import (
	"fmt"
	"strings"
)

// ValidateMap checks the forwarded encryption headers before dispatch so a
// bad value fails the delivery request instead of poisoning the bridge
// request later.
func ValidateMap(headers map[string]string) error {
	for rawName, rawValue := range headers {
		name := strings.TrimSpace(rawName)
		if name == "" {
			return fmt.Errorf("header name must not be empty")
		}
		if rawName != name {
			return fmt.Errorf("header %q has leading or trailing whitespace", rawName)
		}
		if !validFieldName(name) {
			return fmt.Errorf("header %q has invalid field name", name)
		}
		if !validFieldValue(rawValue) {
			return fmt.Errorf("header %q has invalid field value", name)
		}
	}
	return nil
}

func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenByte(name[i]) {
			return false
		}
	}
	return true
}

// RFC 9110 token characters.
func isTokenByte(b byte) bool {
	if b >= '0' && b <= '9' {
		return true
	}
	if b >= 'A' && b <= 'Z' {
		return true
	}
	if b >= 'a' && b <= 'z' {
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	default:
		return false
	}
}

func validFieldValue(value string) bool {
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b == '\r' || b == '\n' || b == 0x7f {
			return false
		}
		if b < 0x20 && b != '\t' {
			return false
		}
	}
	return true
}
