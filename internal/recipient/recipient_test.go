package recipient

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeList(t, "recipients.json", `{
		"targets": [
			{"email": "ada@example.com", "first_name": "Ada", "last_name": "Lovelace", "company_name": "Engines", "seats": 3},
			{"email": "alan@example.com", "first_name": "Alan", "last_name": "Turing"}
		]
	}`)

	recipients, err := Load(path)
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	assert.Equal(t, "ada@example.com", recipients[0].Email)
	assert.Equal(t, "Engines", recipients[0].Extra["company_name"])
	assert.Equal(t, "3", recipients[0].Extra["seats"])

	vars := recipients[0].Vars()
	assert.Equal(t, "Ada", vars["FirstName"])
	assert.Equal(t, "Lovelace", vars["LastName"])
	assert.Equal(t, "ada@example.com", vars["Email"])
	assert.Equal(t, "Engines", vars["CompanyName"])
	assert.Equal(t, "Engines", vars["company_name"])
}

func TestLoadYAML(t *testing.T) {
	path := writeList(t, "recipients.yaml", `
targets:
  - email: grace@example.com
    first_name: Grace
    last_name: Hopper
    team: navy
`)

	recipients, err := Load(path)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "navy", recipients[0].Vars()["Team"])
}

func TestLoadRejectsMissingTargets(t *testing.T) {
	_, err := Load(writeList(t, "recipients.json", `{"people": []}`))
	assert.ErrorContains(t, err, "targets")
}

func TestLoadRejectsMissingFields(t *testing.T) {
	_, err := Load(writeList(t, "recipients.json", `{"targets": [{"email": "x@example.com"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first_name, last_name")
}

func TestLoadRejectsInvalidEmail(t *testing.T) {
	_, err := Load(writeList(t, "recipients.json", `{"targets": [{"email": "not-an-email", "first_name": "A", "last_name": "B"}]}`))
	assert.Error(t, err)
}

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "CompanyName", CamelCase("company_name"))
	assert.Equal(t, "Team", CamelCase("team"))
	assert.Equal(t, "PromoCode", CamelCase("promo-code"))
	assert.Equal(t, "", CamelCase("__"))
	assert.Equal(t, "ÉtatCivil", CamelCase("état_civil"))
	assert.Equal(t, "NomÜber", CamelCase("nom_über"))
}
