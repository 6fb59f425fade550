package notify_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Planning-Inspectorate/appeals-back-office-sub015/notify"
)

func TestDefaultRegistry_Names(t *testing.T) {
	reg, err := notify.DefaultRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{"appeal-status-changed", "appeal-withdrawn", "decision-published"}, reg.Names())
}

func TestRegistry_RenderDecisionPublished(t *testing.T) {
	reg, err := notify.DefaultRegistry()
	require.NoError(t, err)

	msg, err := reg.Render("decision-published", notify.Personalisation{
		"appeal_reference": "APP/Q9999/D/21/1234567",
		"site_address":     "1 Main Street, Bristol",
		"decision_outcome": "allowed",
		"recipient_role":   "lpa",
	})

	require.NoError(t, err)
	assert.Equal(t, "Appeal APP/Q9999/D/21/1234567: decision issued", msg.Subject)
	assert.Contains(t, msg.Body, "Site address: 1 Main Street, Bristol")
	assert.Contains(t, msg.Body, "Decision: allowed")
	assert.Contains(t, msg.Body, "as the lpa on this appeal")
}

func TestRegistry_RenderMissingVariable(t *testing.T) {
	reg, err := notify.DefaultRegistry()
	require.NoError(t, err)

	_, err = reg.Render("decision-published", notify.Personalisation{
		"appeal_reference": "APP/1",
		"site_address":     "1 Main Street",
		"recipient_role":   "appellant",
	})

	var rerr *notify.TemplateRenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "decision-published", rerr.Template)
	assert.Equal(t, "decision_outcome", rerr.Field)
	assert.Equal(t, 4, rerr.Line)
	assert.Positive(t, rerr.Column)
	assert.Contains(t, err.Error(), "field decision_outcome")
}

func TestRegistry_RenderUnknownTemplate(t *testing.T) {
	reg, err := notify.DefaultRegistry()
	require.NoError(t, err)

	_, err = reg.Render("missing", notify.Personalisation{"appeal_reference": "APP/1"})

	assert.ErrorIs(t, err, notify.ErrTemplateNotFound)
}

func TestLoadRegistry_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		yaml     string
		contains string
	}{
		{name: "not_yaml", yaml: "templates: [", contains: "decode template catalogue"},
		{name: "empty", yaml: "templates: {}\n", contains: "empty"},
		{name: "missing_body", yaml: "templates:\n  a:\n    subject: hi\n", contains: "subject and body are required"},
		{name: "bad_syntax", yaml: "templates:\n  a:\n    subject: \"{{.x\"\n    body: b\n", contains: "parse template a subject"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := notify.LoadRegistry(strings.NewReader(tc.yaml))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := "templates:\n  hello:\n    subject: \"Hello {{.appeal_reference}}\"\n    body: \"Body\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := notify.LoadRegistryFile(path)
	require.NoError(t, err)

	msg, err := reg.Render("hello", notify.Personalisation{"appeal_reference": "APP/7"})
	require.NoError(t, err)
	assert.Equal(t, "Hello APP/7", msg.Subject)

	_, err = notify.LoadRegistryFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
