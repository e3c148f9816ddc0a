package core

import "certcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Doctor             = domain.Doctor
	Employee           = domain.Employee
	Certificate        = domain.Certificate
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityDoctor      = domain.EntityDoctor
	EntityEmployee    = domain.EntityEmployee
	EntityCertificate = domain.EntityCertificate
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
