package core

import (
	"context"

	"certcore/internal/classify"
	"certcore/pkg/domain"
)

// NewPsychosocialRiskAlertRule returns a warning-severity rule that surfaces
// an NR-1 follow-up alert for every risk-flagged certificate created in the
// transaction. Warnings never block the commit.
func NewPsychosocialRiskAlertRule() domain.Rule {
	return psychosocialRiskAlertRule{}
}

type psychosocialRiskAlertRule struct{}

func (psychosocialRiskAlertRule) Name() string { return "psychosocial_risk_alert" }

func (psychosocialRiskAlertRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityCertificate || change.Action != domain.ActionCreate {
			continue
		}
		cert, ok := change.After.(domain.Certificate)
		if !ok || !cert.PsychosocialRisk {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "psychosocial_risk_alert",
			Severity: domain.SeverityWarn,
			Message:  classify.AlertMessage(cert.RiskDetail),
			Entity:   domain.EntityCertificate,
			EntityID: cert.ID,
		})
	}
	return res, nil
}
