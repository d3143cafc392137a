package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdist-tools/sdist-meta/pkg/dbtest"
	"github.com/sdist-tools/sdist-meta/pkg/types"

	_ "modernc.org/sqlite"
)

var (
	resultRequests = types.Result{
		ArchivePath: "/cache/archives/requests-2.31.0.tar.gz",
		ExtractedPaths: []string{
			"/cache/extracted/requests-2.31.0/setup.py",
			"/cache/extracted/requests-2.31.0/setup.cfg",
		},
	}
	resultFlask = types.Result{
		ArchivePath: "/cache/archives/flask-3.0.0.tar.gz",
		ExtractedPaths: []string{
			"/cache/extracted/flask-3.0.0/pyproject.toml",
		},
	}
	resultBroken = types.Result{
		ArchivePath: "/cache/archives/broken-0.1.tar.gz",
		ErrorKind:   types.OpenError,
		Detail:      "gzip open error: unexpected EOF",
	}
)

func TestSelectResultByArchivePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want types.Result
	}{
		{
			name: "success with ordered members",
			path: "/cache/archives/requests-2.31.0.tar.gz",
			want: resultRequests,
		},
		{
			name: "failure",
			path: "/cache/archives/broken-0.1.tar.gz",
			want: resultBroken,
		},
		{
			name: "unknown archive",
			path: "/cache/archives/unknown.tar.gz",
			want: types.Result{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbc, err := dbtest.InitDB(t, []types.Result{
				resultRequests,
				resultBroken,
			})
			require.NoError(t, err)

			got, err := dbc.SelectResultByArchivePath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsertResultsReplacesEarlierRun(t *testing.T) {
	dbc, err := dbtest.InitDB(t, []types.Result{resultRequests})
	require.NoError(t, err)

	// A rerun over the same archive overwrites the earlier result and its
	// member rows.
	rerun := types.Failure(resultRequests.ArchivePath, types.MemberExtractionError, "disk full")
	require.NoError(t, dbc.InsertResults([]types.Result{rerun}))

	got, err := dbc.SelectResultByArchivePath(resultRequests.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, rerun, got)
	assert.Empty(t, got.ExtractedPaths)
}

func TestSelectResults(t *testing.T) {
	dbc, err := dbtest.InitDB(t, []types.Result{
		resultRequests,
		resultFlask,
		resultBroken,
	})
	require.NoError(t, err)

	got, err := dbc.SelectResults()
	require.NoError(t, err)

	// Ordered by archive path.
	assert.Equal(t, []types.Result{
		resultBroken,
		resultFlask,
		resultRequests,
	}, got)
}

func TestProcessedArchives(t *testing.T) {
	dbc, err := dbtest.InitDB(t, []types.Result{
		resultRequests,
		resultFlask,
		resultBroken,
	})
	require.NoError(t, err)

	got, err := dbc.ProcessedArchives()
	require.NoError(t, err)

	// Failed archives are not considered processed so a resumed run retries them.
	assert.Equal(t, map[string]struct{}{
		resultRequests.ArchivePath: {},
		resultFlask.ArchivePath:    {},
	}, got)
}

func TestCountsByOutcome(t *testing.T) {
	dbc, err := dbtest.InitDB(t, []types.Result{
		resultRequests,
		resultFlask,
		resultBroken,
	})
	require.NoError(t, err)

	got, err := dbc.CountsByOutcome()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"success": 2,
		"failure": 1,
	}, got)
}
