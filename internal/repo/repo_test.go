package repo

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/store"
)

func createTestRepo(t *testing.T) *Repository {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, WithClock(func() time.Time { return time.UnixMilli(1700000000000) }))
}

func employee(id, name string, salary int) ir.Record {
	return ir.Record{"id": id, "name": name, "salary": json.Number(strconv.Itoa(salary))}
}

func TestPutMany_GetAll(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	items := []ir.Record{
		employee("e2", "Bo", 200),
		employee("e1", "Ana", 100),
		employee("e3", "Cy", 300),
	}
	require.NoError(t, r.PutMany(ctx, ir.Employees, items))

	all, err := r.GetAll(ctx, ir.Employees, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e1", all[0]["id"])
	assert.Equal(t, "e2", all[1]["id"])
	assert.Equal(t, "e3", all[2]["id"])

	n, err := r.Count(ctx, ir.Employees)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPutMany_UpsertIsIdempotent(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	rec := employee("e1", "Ana", 100)
	require.NoError(t, r.PutOne(ctx, ir.Employees, rec))
	require.NoError(t, r.PutOne(ctx, ir.Employees, rec))

	all, err := r.GetAll(ctx, ir.Employees, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, r.PutOne(ctx, ir.Employees, employee("e1", "Ana Maria", 110)))
	got, err := r.GetOne(ctx, ir.Employees, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", got["name"])
	assert.Equal(t, json.Number("110"), got["salary"])
}

func TestPutMany_AllOrNothing(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	err := r.PutMany(ctx, ir.Employees, []ir.Record{
		employee("e1", "Ana", 100),
		{"name": "no id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 1 has no id")

	all, err := r.GetAll(ctx, ir.Employees, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPutMany_Empty(t *testing.T) {
	r := createTestRepo(t)
	require.NoError(t, r.PutMany(context.Background(), ir.Employees, nil))
}

func TestGetOne_NotFound(t *testing.T) {
	r := createTestRepo(t)

	_, err := r.GetOne(context.Background(), ir.Payroll, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestPutOne_KeepsUnicodeBytes(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	decomposed := "e\u0301"
	rec := ir.Record{"id": decomposed, "name": "Jose\u0301", "caf\u00e9": "a", "cafe\u0301": "b"}
	require.NoError(t, r.PutOne(ctx, ir.Employees, rec))

	got, err := r.GetOne(ctx, ir.Employees, decomposed)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// A read-modify-write lands on the same row.
	require.NoError(t, r.PutOne(ctx, ir.Employees, got.Merge(ir.Record{"name": "Jos\u00e9"})))
	n, err := r.Count(ctx, ir.Employees)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.GetOne(ctx, ir.Employees, "\u00e9")
	assert.True(t, store.IsNotFound(err))
}

func TestPutOne_TypedValues(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.PutOne(ctx, ir.Employees, ir.Record{
		"id":       "e1",
		"skills":   []string{"go", "sql"},
		"labels":   map[string]string{"team": "core"},
		"children": []ir.Record{{"name": "B"}},
	}))

	got, err := r.GetOne(ctx, ir.Employees, "e1")
	require.NoError(t, err)
	assert.Equal(t, []any{"go", "sql"}, got["skills"])
	assert.Equal(t, map[string]any{"team": "core"}, got["labels"])
	assert.Equal(t, []any{map[string]any{"name": "B"}}, got["children"])
}

func TestRemoveAndClear(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.PutMany(ctx, ir.Deployments, []ir.Record{
		{"id": "d1"}, {"id": "d2"},
	}))

	require.NoError(t, r.Remove(ctx, ir.Deployments, "d1"))
	require.NoError(t, r.Remove(ctx, ir.Deployments, "d1"), "removing an absent id is not an error")

	all, err := r.GetAll(ctx, ir.Deployments, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, r.Clear(ctx, ir.Deployments))
	all, err = r.GetAll(ctx, ir.Deployments, nil)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestTablesAreIsolated(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.PutOne(ctx, ir.Employees, ir.Record{"id": "x"}))

	_, err := r.GetOne(ctx, ir.Payroll, "x")
	assert.True(t, store.IsNotFound(err))
}

func TestGetAll_Query(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.PutMany(ctx, ir.LeaveRequests, []ir.Record{
		{"id": "l1", "status": "pending", "days": json.Number("3")},
		{"id": "l2", "status": "approved", "days": json.Number("10")},
		{"id": "l3", "status": "pending", "days": json.Number("1")},
		{"id": "l4", "status": "pending", "days": json.Number("5")},
	}))

	q, err := ParseQuery([]string{"status=pending"}, "days", true, 2)
	require.NoError(t, err)

	got, err := r.GetAll(ctx, ir.LeaveRequests, q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "l4", got[0]["id"])
	assert.Equal(t, "l1", got[1]["id"])
}

func TestGetAll_QueryMatchesAcrossNormalization(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.PutMany(ctx, ir.Employees, []ir.Record{
		{"id": "e1", "name": "Jose\u0301"},
		{"id": "e2", "name": "Josh"},
	}))

	q, err := ParseQuery([]string{"name=Jos\u00e9"}, "", false, 0)
	require.NoError(t, err)

	got, err := r.GetAll(ctx, ir.Employees, q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Jose\u0301", got[0]["name"], "stored bytes are returned untouched")
}

func TestParseQuery(t *testing.T) {
	t.Run("rejects malformed where", func(t *testing.T) {
		_, err := ParseQuery([]string{"status"}, "", false, 0)
		require.Error(t, err)
		_, err = ParseQuery([]string{"=x"}, "", false, 0)
		require.Error(t, err)
	})

	t.Run("rejects negative limit", func(t *testing.T) {
		_, err := ParseQuery(nil, "", false, -1)
		require.Error(t, err)
	})

	t.Run("numeric order beats lexical order", func(t *testing.T) {
		q, err := ParseQuery(nil, "n", false, 0)
		require.NoError(t, err)
		got := q.apply([]ir.Record{
			{"id": "a", "n": json.Number("10")},
			{"id": "b", "n": json.Number("9")},
			{"id": "c"},
		})
		assert.Equal(t, "c", got[0]["id"], "missing fields sort first")
		assert.Equal(t, "b", got[1]["id"])
		assert.Equal(t, "a", got[2]["id"])
	})

	t.Run("where matches non-string fields", func(t *testing.T) {
		q, err := ParseQuery([]string{"active=true", "level=2"}, "", false, 0)
		require.NoError(t, err)
		got := q.apply([]ir.Record{
			{"id": "a", "active": true, "level": json.Number("2")},
			{"id": "b", "active": false, "level": json.Number("2")},
		})
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0]["id"])
	})

	t.Run("nil query keeps everything", func(t *testing.T) {
		var q *Query
		recs := []ir.Record{{"id": "a"}}
		assert.Equal(t, recs, q.apply(recs))
	})
}

type leaveRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Days   int    `json:"days"`
}

func TestTyped(t *testing.T) {
	r := createTestRepo(t)
	ctx := context.Background()
	leaves := NewTyped[leaveRequest](r, ir.LeaveRequests)

	require.NoError(t, leaves.Put(ctx, leaveRequest{ID: "l1", Status: "pending", Days: 3}))
	require.NoError(t, leaves.Put(ctx, leaveRequest{ID: "l2", Status: "approved", Days: 7}))

	got, err := leaves.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, leaveRequest{ID: "l1", Status: "pending", Days: 3}, got)

	all, err := leaves.All(ctx, &Query{Less: ByField("days")})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 3, all[0].Days)

	err = leaves.Put(ctx, leaveRequest{Status: "pending"})
	require.Error(t, err, "encoded record without id must be refused")

	_, err = leaves.Get(ctx, "missing")
	assert.True(t, store.IsNotFound(err))
}
