// Package variant loads subject manifests and variant documents.
package variant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stemsi/kontrol-backend/internal/model"
)

var (
	// ErrLoad covers missing or malformed manifests and variant documents.
	ErrLoad = errors.New("variant: load failed")
	// ErrNotFound is returned for a variant id the manifest does not list.
	ErrNotFound = errors.New("variant: not found")
)

// Loader resolves manifests and variants of a subject.
type Loader interface {
	Manifest(ctx context.Context, subject string) (*model.Manifest, error)
	Variant(ctx context.Context, subject, variantID string) (*model.Variant, error)
}

// DirLoader reads {root}/{subject}/variants/manifest.json and the variant
// files it lists.
type DirLoader struct {
	root string
}

func NewDirLoader(root string) *DirLoader {
	return &DirLoader{root: root}
}

func (l *DirLoader) Manifest(_ context.Context, subject string) (*model.Manifest, error) {
	if !safeName(subject) {
		return nil, fmt.Errorf("%w: invalid subject %q", ErrLoad, subject)
	}
	data, err := os.ReadFile(filepath.Join(l.root, subject, "variants", "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrLoad, subject, err)
	}

	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrLoad, subject, err)
	}
	if m.Subject == "" {
		m.Subject = subject
	}
	if m.SubjectTitle == "" {
		m.SubjectTitle = m.Subject
	}
	return &m, nil
}

func (l *DirLoader) Variant(ctx context.Context, subject, variantID string) (*model.Variant, error) {
	m, err := l.Manifest(ctx, subject)
	if err != nil {
		return nil, err
	}
	entry, ok := m.Entry(variantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, subject, variantID)
	}

	file := entry.File
	if file == "" {
		file = "variant_" + variantID + ".json"
	}
	if !safeName(file) {
		return nil, fmt.Errorf("%w: invalid variant file %q", ErrLoad, file)
	}

	data, err := os.ReadFile(filepath.Join(l.root, subject, "variants", file))
	if err != nil {
		return nil, fmt.Errorf("%w: variant %s/%s: %v", ErrLoad, subject, variantID, err)
	}
	v, err := model.ParseVariantDocument(entry.ID, file, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if v.Title == "" {
		v.Title = entry.Title
	}
	return v, nil
}

// safeName rejects names that could leave the variants directory.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// NormalizeVariantID reduces user input such as "variant_1" or "Вариант 3"
// to the zero-padded id used by the result service ("01", "03"). Input
// without digits yields "".
func NormalizeVariantID(v string) string {
	s := strings.TrimSpace(v)
	start := strings.IndexFunc(s, isDigit)
	if start < 0 {
		return ""
	}
	end := start
	for end < len(s) && isDigit(rune(s[end])) {
		end++
	}
	digits := s[start:end]
	if len(digits) == 1 {
		return "0" + digits
	}
	return digits
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
