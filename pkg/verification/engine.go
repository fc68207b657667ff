// Package verification decides whether a recorded action is what it claims
// to be. The engine runs structural checks, binds claimed secure executions
// to their attestations and evaluates domain rules; every check result lands
// in an evidence-grade report. Attestation failures fail closed: an action
// claiming secure execution without a valid attestation is rejected, never
// passed through degraded.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/pkg/canonicalize"
	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// ActionRegistry is the slice of the registry the engine needs.
type ActionRegistry interface {
	Get(ctx context.Context, actionID string) (*contracts.Action, error)
	TransitionStatus(ctx context.Context, actionID string, to contracts.ActionStatus) error
	Reject(ctx context.Context, actionID, reason string) error
}

// ExecutionSource resolves execution ids claimed by actions.
type ExecutionSource interface {
	GetExecution(ctx context.Context, executionID string) (*contracts.Execution, error)
}

// AttestationChecker verifies attestations against expected executions.
type AttestationChecker interface {
	GetByExecution(ctx context.Context, executionID string) (*contracts.Attestation, error)
	Verify(ctx context.Context, attestationID string, expected *contracts.Execution) (contracts.AttestationStatus, error)
}

// PayloadValidator validates payloads against per-action-type schemas.
type PayloadValidator interface {
	Validate(actionType string, p contracts.Payload) error
}

// Report is the structured output of verifying one action.
type Report struct {
	ActionID   string        `json:"action_id"`
	Verified   bool          `json:"verified"`
	Timestamp  time.Time     `json:"timestamp"`
	Checks     []CheckResult `json:"checks"`
	Summary    string        `json:"summary"`
	IssueCount int           `json:"issue_count"`
}

// CheckResult represents a single verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"` // failure reason
}

func (r *Report) addCheck(c CheckResult) {
	r.Checks = append(r.Checks, c)
	if !c.Pass {
		r.IssueCount++
		r.Verified = false
	}
}

// FirstFailure returns the reason of the first failed check.
func (r *Report) FirstFailure() string {
	for _, c := range r.Checks {
		if !c.Pass {
			if c.Reason != "" {
				return fmt.Sprintf("%s: %s", c.Name, c.Reason)
			}
			return c.Name
		}
	}
	return ""
}

// Engine verifies actions and drives the Recorded -> Verified / Rejected
// transition.
type Engine struct {
	actions      ActionRegistry
	executions   ExecutionSource
	attestations AttestationChecker
	payloads     PayloadValidator
	rules        RuleEvaluator
	domainRules  []string
	clock        func() time.Time
}

// NewEngine creates an Engine. domainRules are CEL expressions every action
// must satisfy; an empty set means structural and attestation checks only.
func NewEngine(actions ActionRegistry, executions ExecutionSource, attestations AttestationChecker, payloads PayloadValidator, rules RuleEvaluator, domainRules []string) *Engine {
	return &Engine{
		actions:      actions,
		executions:   executions,
		attestations: attestations,
		payloads:     payloads,
		rules:        rules,
		domainRules:  domainRules,
		clock:        time.Now,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Verify runs all checks on a Recorded action and transitions it to Verified
// or Rejected. Verifying an already verified action is an idempotent no-op
// returning its settled result; verifying a rejected action returns the
// stored rejection.
func (e *Engine) Verify(ctx context.Context, actionID string) (*Report, error) {
	action, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	switch action.Status {
	case contracts.StatusRejected:
		report := e.newReport(actionID)
		report.addCheck(CheckResult{Name: "status", Pass: false, Reason: action.RejectReason})
		report.Summary = "FAIL: action already rejected"
		return report, nil
	case contracts.StatusRecorded:
		// Fall through to the checks.
	default:
		report := e.newReport(actionID)
		report.addCheck(CheckResult{Name: "status", Pass: true, Detail: fmt.Sprintf("already verified (status %s)", action.Status)})
		report.Summary = "PASS: already verified"
		return report, nil
	}

	report := e.runChecks(ctx, action)
	if report.Verified {
		if err := e.actions.TransitionStatus(ctx, actionID, contracts.StatusVerified); err != nil {
			return report, err
		}
		return report, nil
	}
	if err := e.actions.Reject(ctx, actionID, report.FirstFailure()); err != nil {
		return report, err
	}
	return report, nil
}

// ReVerify re-runs all checks regardless of current status, for use after a
// trust event such as a signer or attestation revocation. A verified action
// that no longer passes is moved to Rejected; an action that already
// advanced past Verified can only be reported, not recalled.
func (e *Engine) ReVerify(ctx context.Context, actionID string) (*Report, error) {
	action, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	report := e.runChecks(ctx, action)
	if report.Verified {
		return report, nil
	}
	if contracts.CanTransition(action.Status, contracts.StatusRejected) {
		if err := e.actions.Reject(ctx, actionID, report.FirstFailure()); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Evaluate runs all checks without touching the action's status. Consensus
// verifiers vote with Evaluate; only the coordinator transitions.
func (e *Engine) Evaluate(ctx context.Context, actionID string) (*Report, error) {
	action, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return e.runChecks(ctx, action), nil
}

func (e *Engine) newReport(actionID string) *Report {
	return &Report{
		ActionID:  actionID,
		Verified:  true,
		Timestamp: e.clock().UTC(),
		Checks:    make([]CheckResult, 0),
	}
}

func (e *Engine) runChecks(ctx context.Context, action *contracts.Action) *Report {
	report := e.newReport(action.ActionID)

	report.addCheck(e.checkPayload(action))
	report.addCheck(e.checkSecureExecution(ctx, action))
	report.addCheck(e.checkDomainRules(action))

	if report.IssueCount > 0 {
		report.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", report.IssueCount, len(report.Checks))
	} else {
		report.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(report.Checks), len(report.Checks))
	}
	return report
}

func payloadMap(p contracts.Payload) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return map[string]any(p)
}

func (e *Engine) checkPayload(action *contracts.Action) CheckResult {
	if err := e.payloads.Validate(action.ActionType, action.Inputs); err != nil {
		return CheckResult{Name: "payload_schema", Pass: false, Reason: err.Error()}
	}
	return CheckResult{Name: "payload_schema", Pass: true, Detail: "inputs match schema"}
}

func (e *Engine) checkSecureExecution(ctx context.Context, action *contracts.Action) CheckResult {
	if !action.ClaimsSecureExecution() {
		return CheckResult{Name: "secure_execution", Pass: true, Detail: "no secure execution claimed"}
	}

	exec, err := e.executions.GetExecution(ctx, action.ExecutionID)
	if err != nil {
		return CheckResult{Name: "secure_execution", Pass: false, Reason: fmt.Sprintf("claimed execution %s not found: %v", action.ExecutionID, err)}
	}
	if exec.Status != contracts.ExecutionSucceeded {
		return CheckResult{Name: "secure_execution", Pass: false, Reason: fmt.Sprintf("execution %s did not succeed (status %s)", exec.ExecutionID, exec.Status)}
	}

	// The action's recorded outputs must be the outputs the enclave hashed.
	outputHash, err := canonicalize.Hash(action.Outputs)
	if err != nil {
		return CheckResult{Name: "secure_execution", Pass: false, Reason: fmt.Sprintf("output canonicalization failed: %v", err)}
	}
	if outputHash != exec.OutputHash {
		return CheckResult{Name: "secure_execution", Pass: false, Reason: "recorded outputs do not match attested output hash"}
	}

	att, err := e.attestations.GetByExecution(ctx, exec.ExecutionID)
	if err != nil {
		if errors.Is(err, contracts.ErrAttestationNotFound) {
			return CheckResult{Name: "secure_execution", Pass: false, Reason: "no attestation for claimed execution"}
		}
		return CheckResult{Name: "secure_execution", Pass: false, Reason: err.Error()}
	}

	if _, err := e.attestations.Verify(ctx, att.AttestationID, exec); err != nil {
		return CheckResult{Name: "secure_execution", Pass: false, Reason: err.Error()}
	}
	return CheckResult{Name: "secure_execution", Pass: true, Detail: fmt.Sprintf("attestation %s valid", att.AttestationID)}
}

func (e *Engine) checkDomainRules(action *contracts.Action) CheckResult {
	if len(e.domainRules) == 0 {
		return CheckResult{Name: "domain_rules", Pass: true, Detail: "no domain rules configured"}
	}

	input := map[string]any{
		"action": map[string]any{
			"id":          action.ActionID,
			"agent_id":    action.AgentID,
			"action_type": action.ActionType,
			"description": action.Description,
		},
		"inputs":    payloadMap(action.Inputs),
		"outputs":   payloadMap(action.Outputs),
		"timestamp": e.clock().Unix(),
	}

	failed, err := e.rules.Evaluate(e.domainRules, input)
	if err != nil {
		return CheckResult{Name: "domain_rules", Pass: false, Reason: err.Error()}
	}
	if failed != "" {
		return CheckResult{Name: "domain_rules", Pass: false, Reason: fmt.Sprintf("rule violated: %s", failed)}
	}
	return CheckResult{Name: "domain_rules", Pass: true, Detail: fmt.Sprintf("%d rules passed", len(e.domainRules))}
}
