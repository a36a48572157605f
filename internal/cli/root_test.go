package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command against a SQLite file in dir.
func run(t *testing.T, dir string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--driver", "sqlite", "--path", filepath.Join(dir, "messages.db")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []messageView {
	t.Helper()
	var views []messageView
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var v messageView
		require.NoError(t, json.Unmarshal([]byte(line), &v), line)
		views = append(views, v)
	}
	return views
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "mess", cmd.Use)
	assert.NotEmpty(t, cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"append", "read", "category", "all", "last", "get", "schema"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "--format", "xml", "all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "", "--format", "json", "append", "order-1", "OrderPlaced", "--data", `{"total":42}`, "--id", "m1")
	require.NoError(t, err)
	views := decodeLines(t, out)
	require.Len(t, views, 1)
	assert.Equal(t, uint64(0), views[0].Position)
	assert.Equal(t, "m1", views[0].ID)
	assert.JSONEq(t, `{"total":42}`, string(views[0].Data))

	_, err = run(t, dir, "", "append", "order-1", "OrderPaid", "--expected", "1", "--id", "m2")
	require.NoError(t, err)

	out, err = run(t, dir, "", "--format", "json", "read", "order-1")
	require.NoError(t, err)
	views = decodeLines(t, out)
	require.Len(t, views, 2)
	assert.Equal(t, "OrderPlaced", views[0].MessageType)
	assert.Equal(t, "OrderPaid", views[1].MessageType)
	assert.Less(t, views[0].GlobalPosition, views[1].GlobalPosition)

	out, err = run(t, dir, "", "--format", "json", "read", "order-1", "--from", "1")
	require.NoError(t, err)
	views = decodeLines(t, out)
	require.Len(t, views, 1)
	assert.Equal(t, "m2", views[0].ID)
}

func TestAppendDataFromStdin(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, `{"from":"stdin"}`, "--format", "json", "append", "order-1", "OrderPlaced", "--data", "-")
	require.NoError(t, err)
	views := decodeLines(t, out)
	require.Len(t, views, 1)
	assert.JSONEq(t, `{"from":"stdin"}`, string(views[0].Data))
}

func TestAppendConflictExitCode(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "", "append", "order-1", "OrderPlaced", "--id", "m1")
	require.NoError(t, err)

	_, err = run(t, dir, "", "append", "order-1", "OrderPlaced")
	require.Error(t, err)
	assert.Equal(t, ExitConflict, GetExitCode(err))

	_, err = run(t, dir, "", "append", "order-2", "OrderPlaced", "--id", "m1")
	require.Error(t, err)
	assert.Equal(t, ExitConflict, GetExitCode(err))
}

func TestAppendMalformedStreamName(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "append", "order", "OrderPlaced")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCategoryWithCorrelation(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "", "append", "payment-1", "PaymentTaken",
		"--metadata", `{"correlationStreamName":"order-9"}`)
	require.NoError(t, err)
	_, err = run(t, dir, "", "append", "payment-2", "PaymentTaken")
	require.NoError(t, err)

	out, err := run(t, dir, "", "--format", "json", "category", "payment")
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, out), 2)

	out, err = run(t, dir, "", "--format", "json", "category", "payment", "--correlation", "order")
	require.NoError(t, err)
	views := decodeLines(t, out)
	require.Len(t, views, 1)
	assert.Equal(t, "payment-1", views[0].StreamName)
}

func TestAllWithLimit(t *testing.T) {
	dir := t.TempDir()
	for _, stream := range []string{"a-1", "b-1", "c-1"} {
		_, err := run(t, dir, "", "append", stream, "Created")
		require.NoError(t, err)
	}

	out, err := run(t, dir, "", "--format", "json", "all", "--limit", "2")
	require.NoError(t, err)
	views := decodeLines(t, out)
	require.Len(t, views, 2)
	assert.Equal(t, "a-1", views[0].StreamName)
	assert.Equal(t, "b-1", views[1].StreamName)
}

func TestLastAndGet(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "", "append", "order-1", "OrderPlaced", "--id", "m1")
	require.NoError(t, err)
	_, err = run(t, dir, "", "append", "order-1", "OrderPaid", "--expected", "1", "--id", "m2")
	require.NoError(t, err)

	out, err := run(t, dir, "", "last", "order-1")
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(out), "\t")
	require.GreaterOrEqual(t, len(fields), 4)
	assert.Equal(t, "order-1/1", fields[1])
	assert.Equal(t, "OrderPaid", fields[2])
	assert.Equal(t, "m2", fields[3])

	out, err = run(t, dir, "", "--format", "json", "get", "m1")
	require.NoError(t, err)
	views := decodeLines(t, out)
	require.Len(t, views, 1)
	assert.Equal(t, "OrderPlaced", views[0].MessageType)

	_, err = run(t, dir, "", "get", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = run(t, dir, "", "last", "order-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "messtore.yaml")
	content := "driver: sqlite\npath: " + filepath.Join(dir, "from-config.db") + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", configPath, "append", "order-1", "OrderPlaced"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "from-config.db"))
	assert.NoError(t, err)
}

func TestInvalidDriver(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--driver", "oracle", "all"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
