package models

import (
	"fmt"
	"strings"
)

// VariantKey identifies a cart line by product identity plus the variant
// attributes the shopper picked. Two cart adds with equal keys merge into one
// line; any attribute difference yields a distinct line.
type VariantKey struct {
	ProductID   string `json:"product_id"`
	Color       string `json:"color,omitempty"`
	Size        string `json:"size,omitempty"`
	Measurement string `json:"measurement,omitempty"`
}

const (
	variantSep    = '|'
	variantEscape = '\\'
)

// Key serializes the variant into the deterministic document key used for
// cart storage. Fields are joined with '|'; separator and escape characters
// inside a field are escaped, so distinct variants never collide.
func (k VariantKey) Key() string {
	var b strings.Builder
	for i, field := range []string{k.ProductID, k.Color, k.Size, k.Measurement} {
		if i > 0 {
			b.WriteByte(variantSep)
		}
		for j := 0; j < len(field); j++ {
			if field[j] == variantSep || field[j] == variantEscape {
				b.WriteByte(variantEscape)
			}
			b.WriteByte(field[j])
		}
	}
	return b.String()
}

// ParseVariantKey reverses Key. It fails on truncated escapes or a field
// count other than four.
func ParseVariantKey(s string) (VariantKey, error) {
	fields := make([]string, 0, 4)
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case variantEscape:
			if i+1 >= len(s) {
				return VariantKey{}, fmt.Errorf("variant key %q: dangling escape", s)
			}
			i++
			cur.WriteByte(s[i])
		case variantSep:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	fields = append(fields, cur.String())
	if len(fields) != 4 {
		return VariantKey{}, fmt.Errorf("variant key %q: want 4 fields, got %d", s, len(fields))
	}
	return VariantKey{
		ProductID:   fields[0],
		Color:       fields[1],
		Size:        fields[2],
		Measurement: fields[3],
	}, nil
}
