// Package service is the orchestration facade over the proof-of-agency
// core: it strings the registry, executor, verification engine, anchoring
// client, outcome assessor, reputation calculator and reward distributor
// into the action lifecycle, with tracing and audit on every mutation.
package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaoschain/chaoscore/pkg/anchor"
	"github.com/chaoschain/chaoscore/pkg/archive"
	"github.com/chaoschain/chaoscore/pkg/audit"
	"github.com/chaoschain/chaoscore/pkg/contracts"
	"github.com/chaoschain/chaoscore/pkg/executor"
	"github.com/chaoschain/chaoscore/pkg/identity"
	"github.com/chaoschain/chaoscore/pkg/outcome"
	"github.com/chaoschain/chaoscore/pkg/registry"
	"github.com/chaoschain/chaoscore/pkg/reputation"
	"github.com/chaoschain/chaoscore/pkg/reward"
	"github.com/chaoschain/chaoscore/pkg/verification"
)

// Components carries the wired subsystems. Identity, Evidence and Audit are
// optional; the rest are required.
type Components struct {
	Registry   *registry.Registry
	Executor   *executor.Executor
	Engine     *verification.Engine
	Consensus  *verification.Coordinator
	Anchors    *anchor.Client
	Outcomes   *outcome.Assessor
	Reputation *reputation.Calculator
	Rewards    *reward.Distributor
	Identity   identity.Directory
	Evidence   *archive.Archive
	Audit      audit.Logger
	// Verifiers is the configured verifier set recorded on anchors.
	Verifiers []string
}

// Service exposes the proof-of-agency operations.
type Service struct {
	c      Components
	tracer trace.Tracer
}

// New creates a Service over wired components.
func New(c Components) *Service {
	return &Service{
		c:      c,
		tracer: otel.Tracer("chaoscore.service"),
	}
}

func (s *Service) startSpan(ctx context.Context, name, actionID string) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	if actionID != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("chaoscore.action_id", actionID)))
	}
	return s.tracer.Start(ctx, name, opts...)
}

func (s *Service) auditMutation(ctx context.Context, action, resource string, metadata map[string]any) {
	if s.c.Audit == nil {
		return
	}
	_ = s.c.Audit.Record(ctx, audit.EventMutation, action, resource, metadata)
}

// RecordAction registers a new action claim. When an identity directory is
// configured the acting agent must be known.
func (s *Service) RecordAction(ctx context.Context, action *contracts.Action) (string, error) {
	ctx, span := s.startSpan(ctx, "action.record", action.ActionID)
	defer span.End()

	if s.c.Identity != nil {
		if _, err := s.c.Identity.Resolve(ctx, action.AgentID); err != nil {
			span.RecordError(err)
			return "", err
		}
	}

	id, err := s.c.Registry.Record(ctx, action)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	s.auditMutation(ctx, "action.record", "action/"+id, map[string]any{
		"agent_id":    action.AgentID,
		"action_type": action.ActionType,
	})
	return id, nil
}

// GetAction returns an action by id.
func (s *Service) GetAction(ctx context.Context, actionID string) (*contracts.Action, error) {
	return s.c.Registry.Get(ctx, actionID)
}

// QueryActions returns actions matching the filter.
func (s *Service) QueryActions(ctx context.Context, filter contracts.ActionFilter, page contracts.Page) ([]*contracts.Action, error) {
	return s.c.Registry.Query(ctx, filter, page)
}

// Execute runs a task in the secure execution backend and returns the
// outputs with the attested execution record.
func (s *Service) Execute(ctx context.Context, task executor.Task, inputs contracts.Payload) (contracts.Payload, *contracts.Execution, *contracts.Attestation, error) {
	ctx, span := s.startSpan(ctx, "execution.run", "")
	defer span.End()

	outputs, exec, att, err := s.c.Executor.Execute(ctx, task, inputs)
	if err != nil {
		span.RecordError(err)
		return outputs, exec, att, err
	}
	s.auditMutation(ctx, "execution.run", "execution/"+exec.ExecutionID, map[string]any{
		"task_ref": task.Ref,
	})
	return outputs, exec, att, nil
}

// GetExecution returns an execution by id.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*contracts.Execution, error) {
	return s.c.Executor.GetExecution(ctx, executionID)
}

// VerifyAction runs verification on a recorded action. When consensus is
// configured with a quorum above one, each configured verifier evaluates the
// action independently and the coordinator settles the votes; otherwise the
// engine decides alone. The resulting report lands in the evidence archive.
func (s *Service) VerifyAction(ctx context.Context, actionID string) (*verification.Report, error) {
	ctx, span := s.startSpan(ctx, "action.verify", actionID)
	defer span.End()

	var report *verification.Report
	var err error

	if s.c.Consensus != nil && s.c.Consensus.Quorum() > 1 {
		report, err = s.verifyByConsensus(ctx, actionID)
	} else {
		report, err = s.c.Engine.Verify(ctx, actionID)
	}
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	if s.c.Evidence != nil {
		if hash, archiveErr := s.c.Evidence.SaveJSON(ctx, report); archiveErr == nil {
			span.SetAttributes(attribute.String("chaoscore.evidence_hash", hash))
		}
	}
	s.auditMutation(ctx, "action.verify", "action/"+actionID, map[string]any{
		"verified": report.Verified,
		"summary":  report.Summary,
	})
	return report, nil
}

func (s *Service) verifyByConsensus(ctx context.Context, actionID string) (*verification.Report, error) {
	action, err := s.c.Registry.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.Status != contracts.StatusRecorded {
		// Settled actions keep their result; the engine reports it without
		// re-running checks or touching status.
		return s.c.Engine.Verify(ctx, actionID)
	}

	report, err := s.c.Engine.Evaluate(ctx, actionID)
	if err != nil {
		return nil, err
	}

	// Each configured verifier casts the engine's verdict independently. In
	// a multi-node deployment these votes arrive over the wire; in-process
	// every verifier sees the same evidence.
	votes := make([]verification.Vote, 0, len(s.c.Verifiers))
	for _, verifier := range s.c.Verifiers {
		votes = append(votes, verification.Vote{
			VerifierID: verifier,
			Approve:    report.Verified,
			Reason:     report.FirstFailure(),
		})
	}

	if !report.Verified {
		if rejectErr := s.c.Registry.Reject(ctx, actionID, report.FirstFailure()); rejectErr != nil {
			return report, rejectErr
		}
		return report, nil
	}

	if _, err := s.c.Consensus.Decide(ctx, actionID, votes); err != nil {
		return report, err
	}
	return report, nil
}

// AnchorAction commits a verified action to the ledger.
func (s *Service) AnchorAction(ctx context.Context, actionID string) (*contracts.AnchorRecord, error) {
	ctx, span := s.startSpan(ctx, "action.anchor", actionID)
	defer span.End()

	record, err := s.c.Anchors.Anchor(ctx, actionID, s.c.Verifiers)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.auditMutation(ctx, "action.anchor", "action/"+actionID, map[string]any{
		"ledger_ref": record.LedgerRef,
	})
	return record, nil
}

// GetAnchor returns the anchor record for an action.
func (s *Service) GetAnchor(ctx context.Context, actionID string) (*contracts.AnchorRecord, error) {
	return s.c.Anchors.GetRecord(ctx, actionID)
}

// RecordOutcome assesses a verified action's real-world result. The outcome
// event feeds the reputation calculator through the assessor's sink.
func (s *Service) RecordOutcome(ctx context.Context, actionID string, success bool, impact float64, results contracts.Payload) (*contracts.Outcome, error) {
	ctx, span := s.startSpan(ctx, "action.outcome", actionID)
	defer span.End()

	out, err := s.c.Outcomes.Record(ctx, actionID, success, impact, results)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.auditMutation(ctx, "action.outcome", "action/"+actionID, map[string]any{
		"success": success,
		"impact":  impact,
	})
	return out, nil
}

// GetOutcome returns the outcome recorded for an action.
func (s *Service) GetOutcome(ctx context.Context, actionID string) (*contracts.Outcome, error) {
	return s.c.Outcomes.Get(ctx, actionID)
}

// DistributeRewards disburses the reward split for an assessed action.
func (s *Service) DistributeRewards(ctx context.Context, actionID string) (*contracts.Distribution, error) {
	ctx, span := s.startSpan(ctx, "action.reward", actionID)
	defer span.End()

	dist, err := s.c.Rewards.Distribute(ctx, actionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.auditMutation(ctx, "action.reward", "action/"+actionID, map[string]any{
		"total": dist.Total,
	})
	return dist, nil
}

// GetDistribution returns the reward distribution for an action.
func (s *Service) GetDistribution(ctx context.Context, actionID string) (*contracts.Distribution, error) {
	return s.c.Rewards.Get(ctx, actionID)
}

// GetReputation returns an agent's score in a domain.
func (s *Service) GetReputation(ctx context.Context, agentID, domain string) (contracts.ReputationScore, error) {
	return s.c.Reputation.Get(ctx, agentID, domain)
}

// Leaderboard returns the ranked scores for a domain.
func (s *Service) Leaderboard(ctx context.Context, domain string, limit int) ([]contracts.ReputationScore, error) {
	return s.c.Reputation.Rank(ctx, domain, limit)
}

// validate reports missing required components. Called from wiring code.
func (c Components) validate() error {
	switch {
	case c.Registry == nil:
		return fmt.Errorf("service requires a registry")
	case c.Engine == nil:
		return fmt.Errorf("service requires a verification engine")
	case c.Outcomes == nil:
		return fmt.Errorf("service requires an outcome assessor")
	}
	return nil
}

// NewValidated creates a Service, rejecting incomplete wiring.
func NewValidated(c Components) (*Service, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return New(c), nil
}
