package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceops/cloud-custodian/internal/fixture"
	"github.com/sourceops/cloud-custodian/internal/flightlog"
)

func TestList(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "list", "--root", root, "--format", "json")
	require.NoError(t, err)

	var result ListResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []CaseSummary{
		{Name: "test_empty", Entries: 0},
		{Name: "test_list_instances", Entries: 2},
	}, result.Cases)
}

func TestList_MissingRootIsEmpty(t *testing.T) {
	out, err := executeCommand(t, "list", "--root", filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	assert.Contains(t, out, "No cassettes under")
}

func TestShow_Text(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "show", "test_list_instances", "--root", root)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "show_text", []byte(out))
}

func TestShow_Index(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "show", "test_list_instances", "--root", root, "--index", "1")
	require.NoError(t, err)

	e, err := fixture.JSON.Decode([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Index)
	require.NotNil(t, e.Error)
	assert.Equal(t, "UnauthorizedOperation", e.Error.Code)
}

func TestShow_MissingIndex(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "show", "test_list_instances", "--root", root, "--index", "7", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, fixture.IsFixtureNotFound(err))

	resp := decodeResponse(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "FIXTURE_NOT_FOUND", resp.Error.Code)
}

func TestShow_MissingCase(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "show", "never_recorded", "--root", root)
	require.Error(t, err)
	assert.True(t, fixture.IsInvalidFixtureDirectory(err))
	assert.Contains(t, out, "Error [INVALID_FIXTURE_DIRECTORY]")
}

func TestVerify_AllValid(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "verify", "--root", root, "--format", "json")
	require.NoError(t, err)

	var result VerifyResult
	decodeResponse(t, out, &result)
	assert.True(t, result.Valid)
	assert.Len(t, result.Cases, 2)
}

func TestVerify_ReportsProblems(t *testing.T) {
	root := createTestRoot(t)
	dir := filepath.Join(root, "test_list_instances")

	// Gap: index 1 removed, index 2 present.
	require.NoError(t, os.Rename(filepath.Join(dir, "00001.json"), filepath.Join(dir, "00002.json")))
	// Unknown key in entry 0.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000.json"),
		[]byte(`{"index":0,"operation":"ec2.X","service":"ec2","method":"X","status_code":200,"bogus":1}`), 0o644))

	out, err := executeCommand(t, "verify", "test_list_instances", "--root", root, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result VerifyResult
	decodeResponse(t, out, &result)
	assert.False(t, result.Valid)
	require.Len(t, result.Cases, 1)

	problems := result.Cases[0].Problems
	require.Len(t, problems, 3)
	assert.Equal(t, -1, problems[0].Index)
	assert.Contains(t, problems[0].Message, "index gap")
	assert.Equal(t, 0, problems[1].Index)
	// 00002.json still records index 1.
	assert.Equal(t, 2, problems[2].Index)
	assert.Contains(t, problems[2].Message, "DECODE_ERROR")
}

func TestVerify_TextOutput(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "verify", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "2 cassette(s) valid")
}

func TestPrune(t *testing.T) {
	root := createTestRoot(t)

	out, err := executeCommand(t, "prune", "test_empty", "--root", root, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would remove test_empty")
	assert.DirExists(t, filepath.Join(root, "test_empty"))

	out, err = executeCommand(t, "prune", "test_empty", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed test_empty")
	assert.NoDirExists(t, filepath.Join(root, "test_empty"))
	assert.DirExists(t, filepath.Join(root, "test_list_instances"))
}

func TestPrune_MissingCaseRemovesNothing(t *testing.T) {
	root := createTestRoot(t)

	_, err := executeCommand(t, "prune", "test_empty", "missing_case", "--root", root)
	require.Error(t, err)
	assert.True(t, fixture.IsInvalidFixtureDirectory(err))
	assert.DirExists(t, filepath.Join(root, "test_empty"))
}

func TestFlights(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flights.db")
	l, err := flightlog.Open(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	rec, err := l.BeginFlight(ctx, "test_list_instances", "record")
	require.NoError(t, err)
	e := fixture.Entry{Index: 0, Operation: "ec2.DescribeInstances", StatusCode: 200}
	require.NoError(t, l.RecordCall(ctx, rec, e))
	require.NoError(t, l.EndFlight(ctx, rec, flightlog.StatusPassed))

	rep, err := l.BeginFlight(ctx, "test_list_instances", "replay")
	require.NoError(t, err)
	require.NoError(t, l.RecordCall(ctx, rep, e))
	require.NoError(t, l.EndFlight(ctx, rep, flightlog.StatusPassed))
	require.NoError(t, l.Close())

	out, err := executeCommand(t, "flights", "--db", dbPath, "--case", "test_list_instances", "--diverged", "--format", "json")
	require.NoError(t, err)

	var result FlightsResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Flights, 2)
	assert.Equal(t, "record", result.Flights[0].Mode)
	assert.Equal(t, "replay", result.Flights[1].Mode)
	assert.Empty(t, result.Diverged)

	out, err = executeCommand(t, "flights", "--db", dbPath, "--case", "test_list_instances", "--diverged")
	require.NoError(t, err)
	assert.Contains(t, out, "Latest replay matches latest recording.")
}

func TestFlights_DivergedRequiresCase(t *testing.T) {
	_, err := executeCommand(t, "flights", "--db", filepath.Join(t.TempDir(), "f.db"), "--diverged")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFlights_RequiresDB(t *testing.T) {
	_, err := executeCommand(t, "flights")
	require.Error(t, err)
}
