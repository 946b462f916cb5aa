package agent

import (
	"context"
	"sort"

	"github.com/ransomwarden/ransomwarden/internal/control"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// backend adapts the running Agent's subsystems to control.Backend.
type backend struct {
	agent *Agent
}

func (b *backend) AlertsSince(ctx context.Context, sinceUnix int64) ([]control.AlertView, error) {
	records, err := b.agent.db.AlertsSince(sinceUnix)
	if err != nil {
		return nil, err
	}
	out := make([]control.AlertView, len(records))
	for i, r := range records {
		out[i] = control.AlertView{
			ProcessID:   r.ProcessID,
			MLScore:     r.MLScore,
			Quarantined: r.Quarantined,
			Timestamp:   r.Timestamp,
		}
	}
	return out, nil
}

func (b *backend) RiskOverview(ctx context.Context) ([]control.ProcessRisk, error) {
	var risks []control.ProcessRisk
	b.agent.store.Each(func(s stats.Snapshot) {
		risks = append(risks, control.ProcessRisk{
			ProcessID:     s.ProcessID,
			ActivityScore: s.ActivityScore(),
			FileWrites:    s.FileWrites,
			FileRenames:   s.FileRenames,
			FileDeletes:   s.FileDeletes,
		})
	})
	sort.Slice(risks, func(i, j int) bool { return risks[i].ActivityScore > risks[j].ActivityScore })
	return risks, nil
}

func (b *backend) Release(ctx context.Context, pid uint32) error {
	if err := b.agent.quarantine.Release(ctx, pid); err != nil {
		return err
	}
	b.agent.loop.ClearCooldown(pid)
	return nil
}

func (b *backend) TrackedPIDs(ctx context.Context) int {
	return b.agent.store.Len()
}

func (b *backend) NodeID() string {
	return b.agent.cfg.NodeID
}
