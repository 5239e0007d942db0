package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlanCatalog(t *testing.T) {
	c := DefaultPlanCatalog()

	free := c.DefaultPlan()
	assert.Equal(t, "free", free.ID)
	require.NotNil(t, free.MaxTeams)
	assert.Equal(t, 1, *free.MaxTeams)

	academy, err := c.Get("academy")
	require.NoError(t, err)
	assert.Nil(t, academy.MaxTeams, "academy is unlimited")

	_, err = c.Get("gold")
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestParsePlanCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":           "plans: []",
		"duplicate":       "plans:\n  - id: a\n  - id: a\n",
		"negative":        "plans:\n  - id: a\n    max_teams: -1\n",
		"unknown default": "default: b\nplans:\n  - id: a\n",
		"not yaml":        "plans: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlanCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPlanCatalog_DefaultsToFirstPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  - id: basic\n    max_teams: 2\n  - id: max\n"), 0o600))

	c, err := LoadPlanCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "basic", c.DefaultPlan().ID)
}
