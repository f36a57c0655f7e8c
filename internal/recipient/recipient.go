package recipient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Recipient is one entry of a campaign's target list
type Recipient struct {
	Email     string            `validate:"required,email"`
	FirstName string            `validate:"required"`
	LastName  string            `validate:"required"`
	Extra     map[string]string `validate:"-"`
}

var (
	validate       = validator.New()
	requiredFields = []string{"email", "first_name", "last_name"}
)

// Load reads a recipient list from a JSON or YAML file holding a "targets" array
func Load(path string) ([]Recipient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients file: %w", err)
	}

	var doc struct {
		Targets []map[string]interface{} `json:"targets" yaml:"targets"`
	}
	var raw map[string]interface{}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
		if err == nil {
			err = yaml.Unmarshal(data, &doc)
		}
	default:
		err = json.Unmarshal(data, &raw)
		if err == nil {
			err = json.Unmarshal(data, &doc)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipients file: %w", err)
	}

	if _, ok := raw["targets"]; !ok {
		return nil, fmt.Errorf("recipients configuration must contain 'targets' key")
	}

	recipients := make([]Recipient, 0, len(doc.Targets))
	for i, entry := range doc.Targets {
		r, err := fromEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

func fromEntry(entry map[string]interface{}) (Recipient, error) {
	missing := lo.Filter(requiredFields, func(field string, _ int) bool {
		_, ok := entry[field]
		return !ok
	})
	if len(missing) > 0 {
		return Recipient{}, fmt.Errorf("%v missing required fields: %s", entry["email"], strings.Join(missing, ", "))
	}

	r := Recipient{
		Email:     stringify(entry["email"]),
		FirstName: stringify(entry["first_name"]),
		LastName:  stringify(entry["last_name"]),
		Extra:     make(map[string]string),
	}
	for key, value := range entry {
		if lo.Contains(requiredFields, key) {
			continue
		}
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			continue
		}
		r.Extra[key] = stringify(value)
	}

	if err := validate.Struct(r); err != nil {
		return Recipient{}, fmt.Errorf("invalid recipient %s: %w", r.Email, err)
	}
	return r, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Vars returns the placeholder values contributed by the recipient. Extra
// fields appear under their raw key and under a CamelCase key.
func (r Recipient) Vars() map[string]string {
	vars := make(map[string]string, 3+2*len(r.Extra))
	for key, value := range r.Extra {
		vars[key] = value
		vars[CamelCase(key)] = value
	}
	vars["FirstName"] = r.FirstName
	vars["LastName"] = r.LastName
	vars["Email"] = r.Email
	return vars
}

// CamelCase converts snake_case or kebab-case keys to CamelCase
func CamelCase(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	var b strings.Builder
	for _, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[size:])
	}
	return b.String()
}
