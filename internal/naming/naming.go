// Package naming generates collision resistant names for uploaded artifacts
package naming

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultExt is used when the original name carries no usable extension
const DefaultExt = ".jpg"

// Token returns 128 bits of randomness rendered as 32 lowercase hex chars
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Ext returns the lowercased extension of originalName, or DefaultExt
func Ext(originalName string) string {
	name := strings.ReplaceAll(originalName, "\\", "/")
	ext := strings.ToLower(path.Ext(path.Base(name)))
	if ext == "" || ext == "." || strings.ContainsAny(ext, " /?#") {
		return DefaultExt
	}
	return ext
}

// Generate never fails; every call yields a fresh token with the original
// extension appended
func Generate(originalName string) string {
	return Token() + Ext(originalName)
}

// ObjectName places a freshly generated name under prefix
func ObjectName(prefix, originalName string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + Generate(originalName)
}

// AuditName is the name of the local audit copy, sortable by upload time
func AuditName(now time.Time, originalName string) string {
	return now.Format("20060102150405") + "_" + Generate(originalName)
}
