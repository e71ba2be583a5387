package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/jobs"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/metrics"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/provider"
)

// Live is a snapshot as the provider reports it right now. Created is zero
// when the provider gave no parseable timestamp.
type Live struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	Description string    `json:"description"`
}

// DeleteFailure is one snapshot retention could not remove.
type DeleteFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// RetentionResult lists what a pruning pass kept, tried and removed.
type RetentionResult struct {
	OK        bool            `json:"ok"`
	Message   string          `json:"message"`
	Kept      []string        `json:"kept"`
	Attempted []string        `json:"attempted"`
	Deleted   []string        `json:"deleted"`
	Failed    []DeleteFailure `json:"failed"`
}

func newRetentionResult(ok bool, msg string) *RetentionResult {
	return &RetentionResult{OK: ok, Message: msg, Kept: []string{}, Attempted: []string{}, Deleted: []string{}, Failed: []DeleteFailure{}}
}

// SortNewestFirst orders snapshots by creation time, unknown times last, ties
// by id descending.
func SortNewestFirst(snaps []Live) {
	sort.SliceStable(snaps, func(i, j int) bool {
		a, b := snaps[i], snaps[j]
		if a.Created.IsZero() != b.Created.IsZero() {
			return !a.Created.IsZero()
		}
		if !a.Created.Equal(b.Created) {
			return a.Created.After(b.Created)
		}
		return a.ID > b.ID
	})
}

// Plan splits snapshots (newest first) into kept and deleted ids. A snapshot
// is kept when it is among the count most recent or younger than days; it is
// deleted only when it fails every configured condition. Unknown creation
// times always pass the age condition. With neither set nothing is deleted.
func Plan(snaps []Live, count, days int, now time.Time) (keep, remove []string) {
	keep, remove = []string{}, []string{}
	if count <= 0 && days <= 0 {
		for _, s := range snaps {
			keep = append(keep, s.ID)
		}
		return keep, remove
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	for i, s := range snaps {
		byCount := count > 0 && i < count
		byAge := days > 0 && (s.Created.IsZero() || !s.Created.Before(cutoff))
		if byCount || byAge {
			keep = append(keep, s.ID)
		} else {
			remove = append(remove, s.ID)
		}
	}
	return keep, remove
}

// LiveSnapshots fetches the server's snapshots from the provider, newest
// first.
func (s *Service) LiveSnapshots(ctx context.Context, token, serverExternalID string) ([]Live, error) {
	d, _ := provider.Lookup(models.AssetSnapshots)
	items, err := s.api.FetchAll(ctx, token, d)
	if err != nil {
		return nil, err
	}
	var out []Live
	for _, it := range items {
		if provider.String(provider.Dig(it, "created_from", "id")) != serverExternalID {
			continue
		}
		id := provider.String(it["id"])
		if id == "" {
			continue
		}
		l := Live{ID: id, Description: provider.String(it["description"])}
		if t, err := time.Parse(time.RFC3339, provider.String(it["created"])); err == nil {
			l.Created = t
		}
		out = append(out, l)
	}
	SortNewestFirst(out)
	return out, nil
}

// ApplyRetention prunes the server's live snapshots according to its policy.
// Deletes are issued one by one and a failed delete does not stop the rest.
// It can be called at any time; a second call finds nothing left to remove.
func (s *Service) ApplyRetention(ctx context.Context, serverID uint, actor string) (*RetentionResult, error) {
	tgt, err := s.resolve(ctx, serverID)
	if err != nil {
		return nil, err
	}
	policy, err := s.findPolicy(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return newRetentionResult(true, "no retention policy configured"), nil
	}
	if !RetentionActive(policy) {
		return newRetentionResult(true, "retention disabled in policy"), nil
	}
	if actor == "" {
		actor = "system"
	}
	var res *RetentionResult
	err = s.locker.WithAccount(ctx, tgt.account.ID, func(ctx context.Context) error {
		res = s.prune(ctx, tgt, policy, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) prune(ctx context.Context, tgt *target, policy *models.SnapshotPolicy, actor string) *RetentionResult {
	srv := tgt.server
	token, err := s.accounts.Token(tgt.account)
	if err != nil {
		return newRetentionResult(false, err.Error())
	}
	live, err := s.LiveSnapshots(ctx, token, srv.ExternalID)
	if err != nil {
		s.logger.Warn("retention could not list snapshots", "serverId", srv.ID, "error", err)
		return newRetentionResult(false, "could not list snapshots: "+err.Error())
	}
	if len(live) == 0 {
		return newRetentionResult(true, "no snapshots to prune")
	}

	res := newRetentionResult(true, "")
	res.Kept, res.Attempted = Plan(live, deref(policy.RetentionCount), deref(policy.RetentionDays), s.clock.Now())
	if len(res.Attempted) == 0 {
		res.Message = "retention applied without deletions"
		return res
	}

	jobID := s.tracker.Start(ctx, srv.Scope, "snapshot.retention", map[string]any{
		"server_id": srv.ID, "policy_id": policy.ID, "candidates": res.Attempted,
	})
	for _, id := range res.Attempted {
		if _, err := s.execute(ctx, srv.Scope, actor, token, provider.OpDeleteImage, map[string]string{"id": id}, nil); err != nil {
			res.Failed = append(res.Failed, DeleteFailure{ID: id, Error: err.Error()})
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}

	status := models.StatusSuccess
	res.Message = fmt.Sprintf("retention applied: %d deleted, %d failed", len(res.Deleted), len(res.Failed))
	if len(res.Failed) > 0 {
		status = models.StatusError
	}
	if len(res.Deleted) > 0 {
		if _, err := s.inventory.SyncAccount(ctx, tgt.account.ID); err != nil {
			s.logger.Warn("resync after retention failed", "accountId", tgt.account.ID, "error", err)
		}
		s.tracker.Audit(ctx, jobs.Event{
			Scope: srv.Scope, Actor: actor, Action: "snapshot.retention.deleted",
			TargetType: "server", TargetID: fmt.Sprint(srv.ID),
			After: map[string]any{"deleted_ids": res.Deleted, "policy_id": policy.ID},
		})
		metrics.RetentionDeleted.Add(float64(len(res.Deleted)))
	}
	s.tracker.Finish(ctx, jobID, status, res.Message, map[string]any{"deleted": res.Deleted, "failed": res.Failed})
	s.logger.Info("retention applied", "serverId", srv.ID, "deleted", len(res.Deleted), "failed", len(res.Failed))
	return res
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
