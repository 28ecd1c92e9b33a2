// Package attach stores files uploaded against an entry on local disk.
package attach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	appLog "medtrack/internal/log"
	"medtrack/internal/model"
)

// URLPrefix is where the HTTP API serves stored files from.
const URLPrefix = "/api/files/"

var (
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrInvalidPath is returned for paths outside the attachment root.
	ErrInvalidPath = errors.New("invalid attachment path")
)

// Store writes attachments under Dir as
// cases/<case>/entries/<entry>/<attachmentID>-<name>.
type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

// Save copies r to disk and describes the result. At most maxBytes are
// accepted; a larger body is removed and ErrTooLarge returned.
func (s *Store) Save(caseID, entryID, name string, r io.Reader, maxBytes int64) (model.Attachment, error) {
	if !safeSegment(caseID) || !safeSegment(entryID) {
		return model.Attachment{}, ErrInvalidPath
	}

	id := uuid.NewString()
	clean := safeName(name)
	rel := filepath.ToSlash(filepath.Join("cases", caseID, "entries", entryID, id+"-"+clean))
	full := filepath.Join(s.Dir, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return model.Attachment{}, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return model.Attachment{}, err
	}

	// Read one byte past the limit to detect oversize bodies.
	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(full)
		return model.Attachment{}, err
	}

	mime, err := mimetype.DetectFile(full)
	if err != nil {
		os.Remove(full)
		return model.Attachment{}, fmt.Errorf("detect type: %w", err)
	}

	appLog.Info("attachment stored", "case", caseID, "entry", entryID, "bytes", n, "mime", mime.String())
	return model.Attachment{
		ID:         id,
		Name:       clean,
		URL:        URLPrefix + rel,
		Path:       rel,
		MIME:       mime.String(),
		Size:       n,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Open returns the file at rel (as recorded in Attachment.Path) and its
// detected MIME type. rel must stay inside Dir.
func (s *Store) Open(rel string) (*os.File, string, error) {
	full, err := s.resolve(rel)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, "", err
	}
	mime, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", err
	}
	return f, mime.String(), nil
}

// RemoveEntry deletes every file stored for an entry.
func (s *Store) RemoveEntry(caseID, entryID string) error {
	if !safeSegment(caseID) || !safeSegment(entryID) {
		return ErrInvalidPath
	}
	return os.RemoveAll(filepath.Join(s.Dir, "cases", caseID, "entries", entryID))
}

// CaseOf returns the case id encoded in an attachment path.
func CaseOf(rel string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(filepath.ToSlash(rel), "/"), "/")
	if len(parts) < 5 || parts[0] != "cases" || parts[2] != "entries" || !safeSegment(parts[1]) {
		return "", ErrInvalidPath
	}
	return parts[1], nil
}

func (s *Store) resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	if rel == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	root, err := filepath.Abs(s.Dir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// safeName keeps letters, digits, dot, dash and underscore from the base
// name; anything else becomes "_".
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	if r := []rune(out); len(r) > 120 {
		out = string(r[len(r)-120:])
	}
	return out
}
