package textutil

import "strings"

// CleanAttributes sanitises attribute keys and values as plain text. Entries with an empty key are
// dropped and values are clipped to maxValue runes when maxValue is positive. A nil map stays nil.
func CleanAttributes(values map[string]string, maxValue int) map[string]string {
	if values == nil {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.ToLower(SanitizePlainText(key))
		if key == "" {
			continue
		}
		value = SanitizePlainText(value)
		if maxValue > 0 && RuneLength(value) > maxValue {
			value = string([]rune(value)[:maxValue])
		}
		result[key] = value
	}
	return result
}
