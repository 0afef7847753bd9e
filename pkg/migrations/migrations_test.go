package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedded_OrderedAndComplete(t *testing.T) {
	ms, err := Embedded()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	for i, m := range ms {
		assert.NotEmpty(t, m.Up, m.String())
		assert.NotEmpty(t, m.Down, m.String())
		if i > 0 {
			assert.Less(t, ms[i-1].Version, m.Version)
		}
	}
	assert.Contains(t, ms[len(ms)-1].Up, "CREATE TABLE IF NOT EXISTS activities")
}

func TestLoad_RejectsMissingUp(t *testing.T) {
	fsys := fstest.MapFS{
		"000001_init.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	_, err := Load(fsys)
	assert.Error(t, err)
}

func TestLoad_IgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"README.md":           {Data: []byte("docs")},
		"000002_b.up.sql":     {Data: []byte("B")},
		"000001_a_x.up.sql":   {Data: []byte("A")},
		"000001_a_x.down.sql": {Data: []byte("-A")},
	}
	ms, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "a_x", ms[0].Name)
	assert.Equal(t, "-A", ms[0].Down)
	assert.Equal(t, "000002", ms[1].Version)
}
