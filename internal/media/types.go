// Package media defines the normalized presentation model shared by the
// manifest parsers, the fetch pipeline and the buffer core: periods, tracks
// (adaptations), representations, segments and buffered time ranges.
package media

import (
	"fmt"
	"sync/atomic"
)

// Type identifies the content component a buffer carries.
type Type string

// Media types.
const (
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
	TypeText  Type = "text"
	TypeImage Type = "image"
)

// AllTypes lists media types in the order buffers are created.
var AllTypes = []Type{TypeVideo, TypeAudio, TypeText, TypeImage}

// IsNative reports whether the type is decoded by the native media pipeline.
// Failures on native types are fatal; failures on custom types only disable
// that type.
func (t Type) IsNative() bool {
	return t == TypeVideo || t == TypeAudio
}

// IsCritical reports whether fetch failures for this type should surface.
// Thumbnail tracks are best-effort.
func (t Type) IsCritical() bool {
	return t != TypeImage
}

// Valid reports whether t is a known media type.
func (t Type) Valid() bool {
	switch t {
	case TypeVideo, TypeAudio, TypeText, TypeImage:
		return true
	default:
		return false
	}
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown media type %q", s)
	}
	return t, nil
}

// InitToken is an opaque identity for one loaded initialization segment.
// Two appends carrying equal tokens carry the same init data; the zero token
// means "no init segment".
type InitToken struct {
	id uint64
}

var initTokenSeq atomic.Uint64

// NewInitToken allocates a fresh token.
func NewInitToken() InitToken {
	return InitToken{id: initTokenSeq.Add(1)}
}

// IsZero reports whether the token is unset.
func (t InitToken) IsZero() bool {
	return t.id == 0
}

// String implements fmt.Stringer.
func (t InitToken) String() string {
	if t.id == 0 {
		return "init:none"
	}
	return fmt.Sprintf("init:%d", t.id)
}
