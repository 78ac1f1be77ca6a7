package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/hrsync/internal/ir"
)

// TablePull describes the pull of one table.
type TablePull struct {
	Table ir.Table `json:"table"`

	// Written rows were upserted locally.
	Written int `json:"written"`

	// Protected rows were skipped because a local mutation is pending.
	Protected []string `json:"protected,omitempty"`

	// Invalid rows came back without an id and were dropped.
	Invalid int `json:"invalid,omitempty"`

	Error string `json:"error,omitempty"`
}

// PullResult describes one pull, one entry per table in ir.Tables order.
type PullResult struct {
	Tables []TablePull `json:"tables"`
}

// Total returns the number of rows written across every table.
func (p PullResult) Total() int {
	n := 0
	for _, t := range p.Tables {
		n += t.Written
	}
	return n
}

// Failed returns the tables whose pull failed.
func (p PullResult) Failed() []ir.Table {
	var out []ir.Table
	for _, t := range p.Tables {
		if t.Error != "" {
			out = append(out, t.Table)
		}
	}
	return out
}

// syncDown fetches every table concurrently and upserts the results. A
// failing table does not stop the others; each table is written in its own
// transaction as soon as it arrives.
func (c *Coordinator) syncDown(ctx context.Context, log *slog.Logger, token string) (PullResult, error) {
	protected, err := c.protectedIDs(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull: %w", err)
	}

	tables := ir.Tables()
	res := PullResult{Tables: make([]TablePull, len(tables))}

	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(c.pullConcurrency)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			tp, err := c.pullTable(ctx, table, protected[table])
			if err != nil {
				tp.Error = err.Error()
				log.Warn("pull failed", "table", table, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", table, err))
				mu.Unlock()
			} else {
				log.Debug("table pulled", "table", table, "written", tp.Written, "protected", len(tp.Protected))
			}
			res.Tables[i] = tp
			return nil
		})
	}
	// Workers report through errs, never through the group.
	_ = g.Wait()

	if len(errs) > 0 {
		return res, &SyncError{Code: ErrCodePullIncomplete, Cycle: token, Err: errors.Join(errs...)}
	}

	c.putMeta(ctx, log, ir.MetaLastPull, c.now().UTC())
	log.Debug("pull finished", "written", res.Total())
	return res, nil
}

func (c *Coordinator) pullTable(ctx context.Context, table ir.Table, protected map[string]bool) (TablePull, error) {
	tp := TablePull{Table: table}

	callCtx, cancel := c.callContext(ctx)
	recs, err := c.remote.List(callCtx, table)
	cancel()
	if err != nil {
		return tp, err
	}

	keep := make([]ir.Record, 0, len(recs))
	for _, rec := range recs {
		id, ok := rec.ID()
		if !ok {
			tp.Invalid++
			continue
		}
		if protected[id] {
			tp.Protected = append(tp.Protected, id)
			continue
		}
		keep = append(keep, rec)
	}

	if err := c.repo.PutMany(ctx, table, keep); err != nil {
		return tp, err
	}
	tp.Written = len(keep)
	return tp, nil
}

// protectedIDs returns, per table, the record ids with a pending mutation.
// Pulling those rows would overwrite a local write the remote has not seen.
func (c *Coordinator) protectedIDs(ctx context.Context) (map[ir.Table]map[string]bool, error) {
	pending, err := c.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[ir.Table]map[string]bool)
	for _, m := range pending {
		id := m.RecordID()
		if id == "" {
			continue
		}
		if out[m.Table] == nil {
			out[m.Table] = make(map[string]bool)
		}
		out[m.Table][id] = true
	}
	return out, nil
}
