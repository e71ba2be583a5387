package snapshot

import (
	"context"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/models"
)

type DueDetail struct {
	CompanyID uint   `json:"company_id"`
	ProjectID uint   `json:"project_id"`
	ServerID  uint   `json:"server_id"`
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
}

// DueReport tallies a scheduler pass.
type DueReport struct {
	Processed int         `json:"processed"`
	Success   int         `json:"success"`
	Failed    int         `json:"failed"`
	Details   []DueDetail `json:"details"`
}

// RunDue snapshots every due server in turn. One server failing never stops
// the pass.
func (s *Service) RunDue(ctx context.Context, limit int) (*DueReport, error) {
	due, err := s.Due(ctx, limit)
	if err != nil {
		return nil, err
	}
	report := &DueReport{Details: []DueDetail{}}
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++
		d := DueDetail{CompanyID: p.CompanyID, ProjectID: p.ProjectID, ServerID: p.ServerID}
		res, err := s.RunNow(ctx, p.ServerID, models.RunScheduled, "scheduler")
		switch {
		case err != nil:
			d.Message = err.Error()
			// a run that cannot start still moves the policy one interval ahead
			s.recordOutcome(ctx, &p, models.StatusError, d.Message)
		default:
			d.OK, d.Message = res.OK, res.Message
		}
		if d.OK {
			report.Success++
		} else {
			report.Failed++
		}
		report.Details = append(report.Details, d)
	}
	s.logger.Info("due snapshot policies processed", "processed", report.Processed, "success", report.Success, "failed", report.Failed)
	return report, nil
}
