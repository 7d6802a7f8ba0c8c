package model

// Recognized metadata keys. Any other key is a caller extension and is
// stored and returned untouched.
const (
	// MetaPromotionCandidate marks an entry for promotion regardless of
	// its usage statistics. Value: bool.
	MetaPromotionCandidate = "promotionCandidate"
	// MetaRelatedMemories lists ids of related entries. Value: []string.
	MetaRelatedMemories = "relatedMemories"
	// MetaBaseTTLMinutes records the base TTL the expiry was computed from.
	// Value: number.
	MetaBaseTTLMinutes = "ttlBaseMinutes"
	// MetaTTLMinutes records the TTL actually applied at creation. Value: number.
	MetaTTLMinutes = "ttlMinutes"
	// MetaTTLExtensions counts explicit TTL extensions. Value: number.
	MetaTTLExtensions = "ttlExtensions"
)

// Metadata is the open key/value bag attached to an entry. Values must be
// JSON-encodable primitives, slices or maps.
type Metadata map[string]any

// PromotionCandidate reports whether the entry was explicitly flagged for promotion.
func (m Metadata) PromotionCandidate() bool {
	v, ok := m[MetaPromotionCandidate].(bool)
	return ok && v
}

// RelatedMemories returns the related entry ids, tolerating the []any shape
// produced by JSON decoding.
func (m Metadata) RelatedMemories() []string {
	switch v := m[MetaRelatedMemories].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, id := range v {
			if s, ok := id.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Number reads a numeric value, accepting the float64 produced by JSON decoding.
func (m Metadata) Number(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Clone returns a shallow copy so callers cannot mutate stored metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
