// Package uploads validates user-supplied image uploads and persists them
// to a Store (local directory or S3 bucket).
package uploads

import (
	"path"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Rejection is a validation failure shown to the user next to the upload
// form. It matches common.ErrRejected.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return common.ErrRejected.Error() + ": " + r.Reason }

func (r *Rejection) Is(target error) bool { return target == common.ErrRejected }

// Rejection reasons.
var (
	ErrEmptyFilename       = &Rejection{Reason: "no file selected"}
	ErrEmptyContent        = &Rejection{Reason: "file is empty"}
	ErrExtensionNotAllowed = &Rejection{Reason: "file type not allowed"}
	ErrUnsafeFilename      = &Rejection{Reason: "invalid filename"}
)

// DefaultExtensions is the allowed set used when none is configured.
var DefaultExtensions = []string{"png", "jpg", "jpeg"}

type Validator struct {
	allowed map[string]struct{}
}

// NewValidator accepts extensions with or without a leading dot, in any case.
func NewValidator(extensions []string) *Validator {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	v := &Validator{allowed: make(map[string]struct{}, len(extensions))}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			v.allowed[e] = struct{}{}
		}
	}
	return v
}

// Allowed reports whether name's final dot segment is an allowed extension.
func (v *Validator) Allowed(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	_, ok := v.allowed[strings.ToLower(name[i+1:])]
	return ok
}

// Validate checks an upload and returns the name it may be stored under.
func (v *Validator) Validate(filename string, hasContent bool) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", ErrEmptyFilename
	}
	if !hasContent {
		return "", ErrEmptyContent
	}
	if !v.Allowed(filename) {
		return "", ErrExtensionNotAllowed
	}

	name := SanitizeFilename(filename)
	if name == "" || !v.Allowed(name) {
		return "", ErrUnsafeFilename
	}
	return name, nil
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// SanitizeFilename reduces filename to a flat ASCII name made of letters,
// digits, '_', '-' and '.', with no directory part. It may return "".
func SanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "/" || name == "." {
		return ""
	}

	if folded, _, err := transform.String(transform.Chain(norm.NFKD, stripMarks), name); err == nil {
		name = folded
	}

	name = strings.Join(strings.Fields(name), "_")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == '.':
			b.WriteRune(r)
		}
	}

	return strings.Trim(b.String(), "._")
}
