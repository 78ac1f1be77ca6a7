package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/remote"
)

// FailedMutation is a mutation a push could not deliver.
type FailedMutation struct {
	Mutation ir.Mutation `json:"mutation"`

	// Rejected is true when the remote refused the mutation. Otherwise the
	// failure was transient and the mutation stays pending.
	Rejected bool   `json:"rejected"`
	Error    string `json:"error"`
}

// PushResult describes one drain of the outbox. Every slice holds outbox
// keys in replay order.
type PushResult struct {
	// Sent were accepted by the remote and removed from the outbox.
	Sent []int64 `json:"sent"`

	// Rejected were refused and marked rejected; they stay in the outbox.
	Rejected []int64 `json:"rejected"`

	// Remaining were not delivered because the drain stopped.
	Remaining []int64 `json:"remaining"`

	Failed []FailedMutation `json:"failed,omitempty"`
}

// Complete reports whether every captured mutation was either sent or
// rejected.
func (p PushResult) Complete() bool {
	return len(p.Remaining) == 0
}

// syncUp drains the pending mutations captured at call time.
//
// Mutations are replayed one by one in key order. The sent keys are removed
// in one transaction at the end, whether the drain finished or stopped, so
// a mutation is deleted only after the remote accepted it.
func (c *Coordinator) syncUp(ctx context.Context, log *slog.Logger, token string) (PushResult, error) {
	res := PushResult{Sent: []int64{}, Rejected: []int64{}, Remaining: []int64{}}

	pending, err := c.queue.Pending(ctx)
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}
	log.Debug("push starting", "pending", len(pending))

	// Bookkeeping must land even when ctx is what stopped the drain.
	bg := context.WithoutCancel(ctx)

	var stopErr error
	for i, m := range pending {
		sendErr := c.send(ctx, m)
		if sendErr == nil {
			res.Sent = append(res.Sent, m.Key)
			log.Debug("mutation sent", "key", m.Key, "table", m.Table, "op", m.Op)
			continue
		}

		if remote.IsRejected(sendErr) {
			log.Warn("mutation rejected",
				"key", m.Key,
				"table", m.Table,
				"op", m.Op,
				"id", m.RecordID(),
				"error", sendErr)
			if err := c.queue.MarkRejected(bg, m.Key, sendErr.Error()); err != nil {
				stopErr = fmt.Errorf("push: %w", err)
				res.Remaining = remainingKeys(pending[i:])
				break
			}
			res.Rejected = append(res.Rejected, m.Key)
			res.Failed = append(res.Failed, FailedMutation{Mutation: m, Rejected: true, Error: sendErr.Error()})
			continue
		}

		log.Warn("push stopped on transient failure",
			"key", m.Key,
			"table", m.Table,
			"op", m.Op,
			"error", sendErr)
		if err := c.queue.RecordAttempt(bg, m.Key, sendErr.Error()); err != nil {
			log.Warn("cannot record attempt", "key", m.Key, "error", err)
		}
		res.Failed = append(res.Failed, FailedMutation{Mutation: m, Error: sendErr.Error()})
		res.Remaining = remainingKeys(pending[i:])
		stopErr = &SyncError{Code: ErrCodePushIncomplete, Cycle: token, Err: sendErr}
		break
	}

	if err := c.queue.Remove(bg, res.Sent); err != nil {
		return res, fmt.Errorf("push: %w", err)
	}

	if stopErr != nil {
		return res, stopErr
	}

	c.putMeta(ctx, log, ir.MetaLastPush, c.now().UTC())
	log.Debug("push finished", "sent", len(res.Sent), "rejected", len(res.Rejected))
	return res, nil
}

// send replays one mutation against the remote within the call timeout.
func (c *Coordinator) send(ctx context.Context, m ir.Mutation) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()
	_, err := replay(callCtx, c.remote, m)
	return err
}

// replay maps a mutation onto the matching Client call. For inserts it
// returns the remote's copy of the record.
func replay(ctx context.Context, client remote.Client, m ir.Mutation) (ir.Record, error) {
	switch m.Op {
	case ir.OpInsert:
		return client.Insert(ctx, m.Table, m.Payload)
	case ir.OpUpdate:
		return nil, client.Update(ctx, m.Table, m.RecordID(), m.Payload)
	case ir.OpDelete:
		return nil, client.Delete(ctx, m.Table, m.RecordID())
	default:
		// Enqueue validates ops; a row like this was written by hand.
		return nil, &remote.Error{Kind: remote.KindRejected, Table: m.Table, Op: string(m.Op), Err: fmt.Errorf("unknown op %q", m.Op)}
	}
}

func remainingKeys(ms []ir.Mutation) []int64 {
	keys := make([]int64, len(ms))
	for i, m := range ms {
		keys[i] = m.Key
	}
	return keys
}
