package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hrsync/internal/ir"
)

func TestOutbox_ListRetryClear(t *testing.T) {
	env := newCLIEnv(t)
	env.remote.Reject(ir.Employees, "emp-1", "duplicate email")

	_, err := env.run("put", "employees", env.writeFile("ada.json", adaJSON))
	require.Error(t, err)
	_, err = env.runWithInput(`{"id":"set-1","key":"currency","value":"EUR"}`, "put", "settings", "--offline")
	require.NoError(t, err)

	out, err := env.run("outbox", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 rejected insert employees emp-1")
	assert.Contains(t, out, "#2 pending insert settings set-1\n")
	assert.Contains(t, out, "2 mutation(s)\n")

	out, err = env.run("outbox", "retry")
	require.NoError(t, err)
	assert.Equal(t, "1 mutation(s) pending again\n", out)

	out, err = env.run("outbox", "retry", "1", "--format", "json")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, map[string]any{"retried": float64(0)}, resp.Data)

	out, err = env.run("outbox", "clear")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "without --force")

	out, err = env.run("outbox", "clear", "--force")
	require.NoError(t, err)
	assert.Equal(t, "2 mutation(s) discarded\n", out)

	out, err = env.run("outbox", "list")
	require.NoError(t, err)
	assert.Equal(t, "0 mutation(s)\n", out)
}

func TestOutbox_RetryBadKey(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("outbox", "retry", "one")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `Error [E006]: bad key "one"`)
}

func TestOutbox_ListJSON(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("rm", "payroll", "pay-1", "--offline")
	require.NoError(t, err)

	out, err := env.run("outbox", "list", "--format", "json")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	items := resp.Data.([]any)
	require.Len(t, items, 1)
	m := items[0].(map[string]any)
	assert.Equal(t, "payroll", m["table"])
	assert.Equal(t, "delete", m["op"])
	assert.Equal(t, "pending", m["status"])
}
