// Package security holds the non-reversible transforms applied to sensitive
// values: audit masking, one-time code hashing and opaque identifiers.
package security

import (
	"strings"
)

// Redacted replaces values that must never be stored.
const Redacted = "[REDACTED]"

// secretFields are profile fields whose values are always redacted.
var secretFields = map[string]bool{
	"password":        true,
	"passwordhash":    true,
	"newpasswordhash": true,
	"mfasecret":       true,
	"pin":             true,
	"securityanswer":  true,
}

// tailFields keep only their last four characters.
var tailFields = map[string]bool{
	"phonenumber": true,
	"phone":       true,
	"idnumber":    true,
	"cardnumber":  true,
	"tin":         true,
}

// secretMetadataKeys are metadata keys whose values are always redacted.
var secretMetadataKeys = map[string]bool{
	"password":        true,
	"passwordhash":    true,
	"newpasswordhash": true,
	"token":           true,
	"apikey":          true,
	"secret":          true,
	"code":            true,
	"otp":             true,
	"authorization":   true,
}

// Masker applies deterministic masking rules before audit values are
// persisted. The same input always yields the same output.
type Masker struct {
	maskEmail bool
}

// NewMasker creates a Masker. When maskEmail is set, email values keep only
// the first two characters of the local part.
func NewMasker(maskEmail bool) *Masker {
	return &Masker{maskEmail: maskEmail}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", ".", "").Replace(k))
}

// MaskValue masks value according to the field it belongs to.
func (m *Masker) MaskValue(field, value string) string {
	if value == "" {
		return value
	}

	key := normalizeKey(field)

	switch {
	case secretFields[key]:
		return Redacted
	case tailFields[key]:
		return MaskTail(value, 4)
	case key == "email" && m.maskEmail:
		return MaskEmail(value)
	}

	return value
}

// MaskMetadata returns a copy of md with sensitive keys redacted. Nested maps
// and lists are masked recursively. The input map is never modified.
func (m *Masker) MaskMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}

	out := make(map[string]any, len(md))
	for k, v := range md {
		key := normalizeKey(k)
		if secretMetadataKeys[key] || secretFields[key] {
			out[k] = Redacted
			continue
		}

		out[k] = m.maskAny(k, v)
	}

	return out
}

// maskAny masks v, a value stored under key. List elements inherit the key
// of the list that holds them.
func (m *Masker) maskAny(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return m.MaskMetadata(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = m.maskAny(key, item)
		}
		return items
	case string:
		return m.MaskValue(key, val)
	default:
		return v
	}
}

// MaskEmail keeps the first two characters of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" {
		return email
	}

	runes := []rune(local)
	if len(runes) <= 2 {
		return local + "@" + domain
	}

	stars := min(len(runes)-2, 4)

	return string(runes[:2]) + strings.Repeat("*", stars) + "@" + domain
}

// MaskTail replaces everything except the last keep characters with '*'.
// Whitespace is dropped first so formatted numbers mask consistently.
// Characters are counted as runes, so the result is valid UTF-8.
func MaskTail(value string, keep int) string {
	cleaned := []rune(strings.Join(strings.Fields(value), ""))
	if len(cleaned) <= keep {
		return strings.Repeat("*", len(cleaned))
	}

	return strings.Repeat("*", len(cleaned)-keep) + string(cleaned[len(cleaned)-keep:])
}
