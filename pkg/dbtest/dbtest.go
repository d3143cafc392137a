package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sdist-tools/sdist-meta/pkg/db"
	"github.com/sdist-tools/sdist-meta/pkg/types"
)

func InitDB(t *testing.T, results []types.Result) (db.DB, error) {
	tmpDir := t.TempDir()
	dbc, err := db.New(tmpDir)
	require.NoError(t, err)

	err = dbc.Init()
	require.NoError(t, err)

	if len(results) > 0 {
		err = dbc.InsertResults(results)
		require.NoError(t, err)
	}
	return dbc, nil
}
