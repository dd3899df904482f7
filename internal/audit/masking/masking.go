package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = []string{"email", "secret", "token", "password"}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskSecret(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskMetadata returns a copy of the input with sensitive string values masked.
// Keys are matched by substring so nested shapes like contact_email are covered.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		return maskString(key, cast)
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func maskString(key, value string) string {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if !strings.Contains(lower, sensitive) {
			continue
		}
		if sensitive == "email" {
			return MaskEmail(value)
		}
		return MaskSecret(value)
	}
	return value
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
