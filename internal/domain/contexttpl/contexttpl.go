// Package contexttpl holds versioned context templates and renders them into
// prompt text with mustache.
package contexttpl

import (
	"time"

	"github.com/Strob0t/CoachForge/internal/domain"
)

// DefaultVariant is used when a caller does not name a variant.
const DefaultVariant = "default"

// Template is one immutable version of the template for (ContextType, Variant).
type Template struct {
	VersionID   string    `json:"version_id"`
	Seq         int64     `json:"seq"`
	ContextType string    `json:"context_type"`
	Variant     string    `json:"variant"`
	Body        string    `json:"template"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// VersionStamp implements domain.Versioned.
func (t *Template) VersionStamp() domain.Stamp {
	return domain.Stamp{CreatedAt: t.CreatedAt, Seq: t.Seq}
}

// VariantOrDefault maps an empty variant to DefaultVariant.
func VariantOrDefault(v string) string {
	if v == "" {
		return DefaultVariant
	}
	return v
}
