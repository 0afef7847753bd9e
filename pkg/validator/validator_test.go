package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ruleRequest struct {
	Type  string   `validate:"required,whitelist_type"`
	Name  string   `validate:"required_without_all=Repos VCs"`
	Repos []string `validate:"omitempty,dive,uuid"`
	VCs   []string `validate:"omitempty,dive,uuid"`
}

type statusRequest struct {
	Status string `validate:"required,incident_status"`
}

func TestValidator_WhitelistRequest(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(ruleRequest{Type: "secret", Name: "AKIA"}))
	assert.NoError(t, v.Validate(ruleRequest{Type: "SECRET", Repos: []string{"0b1c5d3e-7d7a-4a57-8f0b-2f6a7d1c9e01"}}))

	err := v.Validate(ruleRequest{Type: "LICENSE"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := map[string]string{}
	for _, e := range verrs {
		fields[e.Field] = e.Message
	}
	assert.Equal(t, "must be one of: SECRET, VULNERABILITY", fields["type"])
	assert.Contains(t, fields, "name")
}

func TestValidator_IncidentStatus(t *testing.T) {
	v := New()
	assert.NoError(t, v.Validate(statusRequest{Status: "in-progress"}))
	assert.Error(t, v.Validate(statusRequest{Status: "resolved"}))
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "block_on_secrets", toSnakeCase("BlockOnSecrets"))
	assert.Equal(t, "name", toSnakeCase("Name"))
}
