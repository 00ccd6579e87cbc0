package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(test *testing.T) {
	dir := test.TempDir()
	cases := []struct {
		name       string
		url        string
		wantDriver string
		wantDSN    string
	}{
		{name: "postgres", url: "postgres://ledger@localhost/ledger", wantDriver: driverPostgres, wantDSN: "postgres://ledger@localhost/ledger"},
		{name: "postgresql", url: "postgresql://ledger@localhost/ledger", wantDriver: driverPostgres, wantDSN: "postgresql://ledger@localhost/ledger"},
		{name: "sqlite url", url: "sqlite://" + filepath.Join(dir, "a", "ledger.db"), wantDriver: driverSQLite, wantDSN: filepath.Join(dir, "a", "ledger.db") + "?_pragma=foreign_keys(1)"},
		{name: "plain path", url: filepath.Join(dir, "b.db"), wantDriver: driverSQLite, wantDSN: filepath.Join(dir, "b.db") + "?_pragma=foreign_keys(1)"},
		{name: "memory", url: ":memory:", wantDriver: driverSQLite, wantDSN: ":memory:?_pragma=foreign_keys(1)"},
	}
	for _, testCase := range cases {
		target, err := parseDatabaseURL(testCase.url)
		require.NoError(test, err, testCase.name)
		require.Equal(test, testCase.wantDriver, target.Driver, testCase.name)
		require.Equal(test, testCase.wantDSN, target.DSN, testCase.name)
	}
	require.DirExists(test, filepath.Join(dir, "a"))

	_, err := parseDatabaseURL("  ")
	require.Error(test, err)
}

func TestOpenDatabaseEnforcesSQLiteForeignKeys(test *testing.T) {
	db, cleanup, err := openDatabase(context.Background(), "sqlite://"+filepath.Join(test.TempDir(), "ledger.db"))
	require.NoError(test, err)
	defer func() { _ = cleanup() }()

	var enabled int
	require.NoError(test, db.Raw("PRAGMA foreign_keys").Scan(&enabled).Error)
	require.Equal(test, 1, enabled)
}

func TestMigrateAndStatsCommands(test *testing.T) {
	databaseURL := "sqlite://" + filepath.Join(test.TempDir(), "ledger.db")

	output := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(output)
	cmd.SetArgs([]string{"migrate", "--database-url", databaseURL})
	require.NoError(test, cmd.ExecuteContext(context.Background()))
	require.Contains(test, output.String(), "schema up to date")

	output.Reset()
	cmd = newRootCommand()
	cmd.SetOut(output)
	cmd.SetArgs([]string{"stats", "--database-url", databaseURL, "--date", "2024-04-09"})
	require.NoError(test, cmd.ExecuteContext(context.Background()))

	var stats map[string]any
	require.NoError(test, json.Unmarshal(output.Bytes(), &stats))
	require.Equal(test, "2024-04-09", stats["date"])
	require.Equal(test, float64(0), stats["invite_code_binds"])
}

func TestStatsCommandRejectsBadDate(test *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats", "--database-url", "sqlite://" + filepath.Join(test.TempDir(), "ledger.db"), "--date", "09/04/2024"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(test, err)
	require.True(test, strings.Contains(err.Error(), flagDate))
}
