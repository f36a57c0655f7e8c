// Package mailtemplate loads campaign message templates and renders
// per-recipient subject and body text.
//
// A template file starts with a header block terminated by the first blank
// line:
//
//	Subject: Hello {{.FirstName}}
//	Content-Type: text/html
//	Encoding: base64
//	Attachments: brochure.pdf, price-list.csv
//
// Everything after the blank line is the body.
package mailtemplate

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoTemplates is returned when a template directory holds no templates
var ErrNoTemplates = errors.New("no template files found")

// Template is a parsed message definition
type Template struct {
	ID          string
	Subject     string
	Body        string
	IsHTML      bool
	Attachments []string

	attachmentDir string
}

// TemplateFormatError reports a malformed template
type TemplateFormatError struct {
	Template string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *TemplateFormatError) Error() string {
	return fmt.Sprintf("template %s: %s", e.Template, e.Message)
}

// Unwrap returns the underlying error.
func (e *TemplateFormatError) Unwrap() error {
	return e.Cause
}

// MissingAttachmentError lists every declared attachment absent from the
// attachment directory
type MissingAttachmentError struct {
	Template  string
	Directory string
	Missing   []string
}

// Error implements the error interface.
func (e *MissingAttachmentError) Error() string {
	return fmt.Sprintf("template %s: missing attachments: %s in directory %s",
		e.Template, strings.Join(e.Missing, ", "), e.Directory)
}

// Load reads and parses the template at path
func Load(path, attachmentDir string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template %s: %w", path, err)
	}
	defer f.Close()

	return Parse(filepath.Base(path), f, attachmentDir)
}

// Parse parses a template from r. Declared attachments are checked against
// attachmentDir immediately.
func Parse(id string, r io.Reader, attachmentDir string) (*Template, error) {
	t := &Template{ID: id, attachmentDir: attachmentDir}

	var (
		isBase64  bool
		inHeaders = true
		body      []string
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !inHeaders {
			body = append(body, line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			inHeaders = false
		case strings.HasPrefix(trimmed, "Subject:"):
			t.Subject = strings.TrimSpace(strings.TrimPrefix(trimmed, "Subject:"))
		case strings.HasPrefix(trimmed, "Content-Type:"):
			t.IsHTML = strings.Contains(strings.ToLower(trimmed), "html")
		case strings.HasPrefix(trimmed, "Encoding:"):
			isBase64 = strings.Contains(strings.ToLower(trimmed), "base64")
		case strings.HasPrefix(trimmed, "Attachments:"):
			t.Attachments = splitList(strings.TrimPrefix(trimmed, "Attachments:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &TemplateFormatError{Template: id, Message: "failed to read template", Cause: err}
	}

	t.Body = strings.Join(body, "\n")

	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(t.Body), ""))
		if err != nil {
			return nil, &TemplateFormatError{Template: id, Message: "failed to decode base64 content", Cause: err}
		}
		t.Body = string(decoded)
	}

	if err := t.validateAttachments(); err != nil {
		return nil, err
	}

	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (t *Template) validateAttachments() error {
	var missing []string
	for _, name := range t.Attachments {
		if _, err := os.Stat(filepath.Join(t.attachmentDir, name)); err != nil {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return &MissingAttachmentError{Template: t.ID, Directory: t.attachmentDir, Missing: missing}
	}
	return nil
}

// AttachmentPaths returns the full paths of all declared attachments
func (t *Template) AttachmentPaths() []string {
	paths := make([]string, 0, len(t.Attachments))
	for _, name := range t.Attachments {
		paths = append(paths, filepath.Join(t.attachmentDir, name))
	}
	return paths
}

// ReplacePlaceholders substitutes {{.Key}} tokens in subject and body.
// Placeholders without a value are left as they are.
func (t *Template) ReplacePlaceholders(vars map[string]string) (string, string) {
	if len(vars) == 0 {
		return t.Subject, t.Body
	}

	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{."+key+"}}", value)
	}
	r := strings.NewReplacer(pairs...)

	return r.Replace(t.Subject), r.Replace(t.Body)
}

// LoadDir loads the named templates from dir. With no names, every .txt and
// .html file in dir is loaded in lexical order.
func LoadDir(dir string, names []string, attachmentDir string) ([]*Template, error) {
	if len(names) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read template directory: %w", err)
		}
		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if !entry.IsDir() && (ext == ".txt" || ext == ".html") {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTemplates, dir)
	}

	templates := make([]*Template, 0, len(names))
	for _, name := range names {
		t, err := Load(filepath.Join(dir, name), attachmentDir)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, nil
}
