package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDataset(t *testing.T) {
	ds, errs := LoadDataset(filepath.Join("testdata", "dataset.yaml"), LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, ds)

	assert.Len(t, ds.People, 3)
	assert.Len(t, ds.Teams, 2)
	assert.Equal(t, "ada", ds.People[0].Name)
	assert.Equal(t, []string{"ada", "grace"}, ds.Teams[0].Members)
}

func TestDatasetRegistry(t *testing.T) {
	ds, errs := LoadDataset(filepath.Join("testdata", "dataset.yaml"), LoadModeFailFast)
	require.Empty(t, errs)

	reg := ds.Registry()
	assert.Equal(t, 3, reg.CountOf(reflect.TypeOf(&Person{})))
	assert.Equal(t, 2, reg.CountOf(reflect.TypeOf(&Team{})))
}

func TestLoadDatasetNotFound(t *testing.T) {
	ds, errs := LoadDataset("/nonexistent/dataset.yaml", LoadModeFailFast)
	require.Nil(t, ds)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadDatasetWrongExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.txt")
	require.NoError(t, os.WriteFile(path, []byte("people: []"), 0644))

	_, errs := LoadDataset(path, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNotYAML)
}

func TestLoadDatasetBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("people: [unclosed"), 0644))

	_, errs := LoadDataset(path, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeParseFailed)
}

func TestLoadDatasetUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("robots:\n  - name: r2\n"), 0644))

	_, errs := LoadDataset(path, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeParseFailed)
}

func TestLoadDatasetEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, errs := LoadDataset(path, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeEmptyDataset)
}

func TestLoadDatasetSchemaViolations(t *testing.T) {
	bad := `
people:
  - name: ""
    age: -1
    team: compilers
`
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	_, errs := LoadDataset(path, LoadModeCollectAll)
	require.NotEmpty(t, errs)
	for _, err := range errs {
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, ErrCodeSchemaViolation, loadErr.Code)
	}

	// Fail-fast stops at the first violation.
	_, errs = LoadDataset(path, LoadModeFailFast)
	require.Len(t, errs, 1)
}
