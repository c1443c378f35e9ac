package resources

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispdesk/portal/internal/backend"
)

func TestDefaultRegistryCoversEveryBackendResource(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	for _, name := range backend.Resources() {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, "resource %s not registered", name)
	}
	assert.Len(t, reg.All(), len(backend.Resources()))
}

func TestParseRejectsBrokenRegistries(t *testing.T) {
	cases := map[string]string{
		"empty":          `resources: []`,
		"unknown name":   "resources:\n  - {name: gizmo, path: /gizmos, subject: Client, fields: [{name: a, label: A, kind: text}]}",
		"unknown subj":   "resources:\n  - {name: client, path: /clients, subject: Gizmo, fields: [{name: a, label: A, kind: text}]}",
		"bad path":       "resources:\n  - {name: client, path: clients, subject: Client, fields: [{name: a, label: A, kind: text}]}",
		"no fields":      "resources:\n  - {name: client, path: /clients, subject: Client}",
		"bad kind":       "resources:\n  - {name: client, path: /clients, subject: Client, fields: [{name: a, label: A, kind: blob}]}",
		"bad rule":       "resources:\n  - {name: client, path: /clients, subject: Client, fields: [{name: a, label: A, kind: text, rules: \"required,sparkly\"}]}",
		"dup resource":   "resources:\n  - {name: client, path: /a, subject: Client, fields: [{name: a, label: A, kind: text}]}\n  - {name: client, path: /b, subject: Client, fields: [{name: a, label: A, kind: text}]}",
		"upload no attr": "resources:\n  - {name: client, path: /clients, subject: Client, upload: {path: /x}, fields: [{name: a, label: A, kind: text}]}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateProducesFieldMessages(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	def, _ := reg.Lookup(backend.ResourceClient)

	errs := def.Validate(validator.New(), map[string]string{"email": "nope", "status": "gone"})
	assert.Equal(t, "Name is required", errs["name"])
	assert.Equal(t, "Enter a valid email address", errs["email"])
	assert.Equal(t, "Status must be one of: active, inactive, suspended", errs["status"])
	assert.NotContains(t, errs, "phone")

	errs = def.Validate(validator.New(), map[string]string{"name": "ACME Fibre", "status": "active"})
	assert.Empty(t, errs)
}

func TestPayloadEncoding(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	def, _ := reg.Lookup(backend.ResourcePayment)

	payload := def.Payload(map[string]string{
		"subscription_id": " 12 ",
		"amount":          "49.90",
		"paid_at":         "2026-10-01",
		"method":          "card",
		"reference":       "",
	})
	assert.Equal(t, int64(12), payload["subscription_id"])
	assert.Equal(t, 49.9, payload["amount"])
	assert.Equal(t, "2026-10-01", payload["paid_at"])
	assert.NotContains(t, payload, "reference")
}

func TestFormValuesNeverEchoPasswords(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	def, _ := reg.Lookup(backend.ResourceUser)
	values := def.FormValues(backend.Record{"email": "a@b.c", "password": "hash", "actor_id": float64(4)})
	assert.Equal(t, "a@b.c", values["email"])
	assert.Equal(t, "4", values["actor_id"])
	assert.NotContains(t, values, "password")
}

func TestRecordLabelFallsBackToID(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	def, _ := reg.Lookup(backend.ResourceUserRole)
	assert.Equal(t, "User role #5", def.RecordLabel(backend.Record{"id": float64(5), "user_id": float64(2)}))
}

func TestRecordLabelForIDOnlyResources(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	for resource, want := range map[string]string{
		backend.ResourceUserRole:       "User role #7",
		backend.ResourceRolePermission: "Role permission #7",
		backend.ResourceSubscription:   "Subscription #7",
	} {
		def, ok := reg.Lookup(resource)
		require.True(t, ok, resource)
		assert.Empty(t, def.Label, resource)
		assert.Equal(t, want, def.RecordLabel(backend.Record{"id": float64(7)}), resource)
	}

	def, _ := reg.Lookup(backend.ResourceClient)
	assert.Equal(t, "Acme", def.RecordLabel(backend.Record{"id": float64(7), "name": "Acme"}))
}
