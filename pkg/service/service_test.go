package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/chaoschain/chaoscore/pkg/anchor"
	"github.com/chaoschain/chaoscore/pkg/archive"
	"github.com/chaoschain/chaoscore/pkg/attestation"
	"github.com/chaoschain/chaoscore/pkg/audit"
	"github.com/chaoschain/chaoscore/pkg/contracts"
	"github.com/chaoschain/chaoscore/pkg/crypto"
	"github.com/chaoschain/chaoscore/pkg/executor"
	"github.com/chaoschain/chaoscore/pkg/identity"
	"github.com/chaoschain/chaoscore/pkg/outcome"
	"github.com/chaoschain/chaoscore/pkg/payload"
	"github.com/chaoschain/chaoscore/pkg/registry"
	"github.com/chaoschain/chaoscore/pkg/reputation"
	"github.com/chaoschain/chaoscore/pkg/reward"
	"github.com/chaoschain/chaoscore/pkg/verification"
)

const analyzeSchema = `{
	"type": "object",
	"properties": {
		"dataset": {"type": "string"}
	},
	"required": ["dataset"]
}`

type fixture struct {
	svc      *Service
	ledger   *anchor.ChainLedger
	auditBuf *bytes.Buffer
}

func newFixture(t *testing.T, quorum int) *fixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	reg := registry.New(registry.NewMemoryActionStore(), registry.NewMemoryOutcomeStore()).WithClock(clock)

	signer, err := crypto.NewEd25519Signer("enclave-1")
	require.NoError(t, err)
	signers := crypto.NewTrustedSignerRegistry()
	signers.RegisterSigner(signer)
	attMgr := attestation.NewManager(signer, signers, attestation.NewMemoryStore())

	exec := executor.New(executor.NewSimBackend("sgx-sim"), attMgr, executor.NewMemoryExecutionStore()).WithClock(clock)

	payloads := payload.NewRegistry()
	require.NoError(t, payloads.Register("ANALYZE", analyzeSchema))

	rules, err := verification.NewCELRuleEvaluator()
	require.NoError(t, err)
	engine := verification.NewEngine(reg, exec, attMgr, payloads, rules, nil).WithClock(clock)

	ledger := anchor.NewChainLedger()
	anchors := anchor.NewClient(reg, ledger, anchor.NewMemoryStore(), rate.NewLimiter(rate.Inf, 0)).WithClock(clock)

	calc := reputation.NewCalculator(reputation.NewMemoryScoreStore(), nil, reputation.DefaultParams()).WithClock(clock)
	assessor := outcome.NewAssessor(reg, calc).WithClock(clock)

	distributor := reward.NewDistributor(reg, anchors, reward.NewMemoryDistributionStore(), reward.DefaultPolicy(), 100).WithClock(clock)

	dir := identity.NewStaticDirectory()
	dir.Register(&identity.Agent{AgentID: "agent-1", PublicKey: "pk-1", Capabilities: []string{"ANALYZE"}})

	var auditBuf bytes.Buffer

	svc, err := NewValidated(Components{
		Registry:   reg,
		Executor:   exec,
		Engine:     engine,
		Consensus:  verification.NewCoordinator(reg, quorum),
		Anchors:    anchors,
		Outcomes:   assessor,
		Reputation: calc,
		Rewards:    distributor,
		Identity:   dir,
		Evidence:   archive.NewArchive(archive.NewMemoryStore()),
		Audit:      audit.NewLoggerWithWriter(&auditBuf),
		Verifiers:  []string{"verifier-a", "verifier-b", "verifier-c"},
	})
	require.NoError(t, err)

	return &fixture{svc: svc, ledger: ledger, auditBuf: &auditBuf}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	inputs := contracts.Payload{"dataset": "btc-1h"}
	outputs, exec, att, err := f.svc.Execute(ctx, executor.Task{
		Ref: "analyze",
		Fn: func(ctx context.Context, in contracts.Payload) (contracts.Payload, error) {
			return contracts.Payload{"score": 0.9}, nil
		},
	}, inputs)
	require.NoError(t, err)
	require.NotNil(t, att)
	require.InDelta(t, 0.9, outputs["score"], 1e-9)

	id, err := f.svc.RecordAction(ctx, &contracts.Action{
		AgentID:     "agent-1",
		ActionType:  "ANALYZE",
		Inputs:      inputs,
		Outputs:     outputs,
		ExecutionID: exec.ExecutionID,
	})
	require.NoError(t, err)

	report, err := f.svc.VerifyAction(ctx, id)
	require.NoError(t, err)
	require.True(t, report.Verified)

	action, err := f.svc.GetAction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusVerified, action.Status)

	record, err := f.svc.AnchorAction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"verifier-a", "verifier-b", "verifier-c"}, record.Verifiers)

	// Anchoring again returns the same reference without a new ledger entry.
	again, err := f.svc.AnchorAction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, record.LedgerRef, again.LedgerRef)
	require.Equal(t, 1, f.ledger.Length())

	out, err := f.svc.RecordOutcome(ctx, id, true, 0.8, contracts.Payload{"pnl": 120.5})
	require.NoError(t, err)
	require.True(t, out.Success)

	// One successful outcome at impact 0.8 lifts the score by 5 * 0.9.
	score, err := f.svc.GetReputation(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.InDelta(t, 54.5, score.Score, 1e-9)
	require.Equal(t, 1, score.SampleCount)

	// Primary earns 80, three verifiers 10 each; the 100 cap scales all
	// shares proportionally.
	dist, err := f.svc.DistributeRewards(ctx, id)
	require.NoError(t, err)
	require.Len(t, dist.Shares, 4)
	require.InDelta(t, 100.0, dist.Total, 1e-9)

	_, err = f.svc.DistributeRewards(ctx, id)
	require.ErrorIs(t, err, contracts.ErrAlreadyDistributed)

	final, err := f.svc.GetAction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRewarded, final.Status)

	// Every lifecycle mutation left an audit line.
	lines := strings.Count(f.auditBuf.String(), "AUDIT: ")
	require.GreaterOrEqual(t, lines, 5)
}

func TestRecordActionRejectsUnknownAgent(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.RecordAction(context.Background(), &contracts.Action{
		AgentID:    "stranger",
		ActionType: "ANALYZE",
		Inputs:     contracts.Payload{"dataset": "btc-1h"},
	})
	require.ErrorIs(t, err, contracts.ErrAgentUnknown)
}

func TestVerifyByConsensusRejectsBadPayload(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	id, err := f.svc.RecordAction(ctx, &contracts.Action{
		AgentID:    "agent-1",
		ActionType: "ANALYZE",
		Inputs:     contracts.Payload{"wrong": true},
	})
	require.NoError(t, err)

	report, err := f.svc.VerifyAction(ctx, id)
	require.NoError(t, err)
	require.False(t, report.Verified)

	action, err := f.svc.GetAction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRejected, action.Status)
}

func TestVerifyActionIdempotentUnderQuorum(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	id, err := f.svc.RecordAction(ctx, &contracts.Action{
		AgentID:    "agent-1",
		ActionType: "ANALYZE",
		Inputs:     contracts.Payload{"dataset": "btc-1h"},
	})
	require.NoError(t, err)

	first, err := f.svc.VerifyAction(ctx, id)
	require.NoError(t, err)
	require.True(t, first.Verified)

	// Verifying again returns the settled result instead of re-running
	// consensus against an already-Verified action.
	second, err := f.svc.VerifyAction(ctx, id)
	require.NoError(t, err)
	require.True(t, second.Verified)

	action, err := f.svc.GetAction(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusVerified, action.Status)

	// Same for a rejected action.
	badID, err := f.svc.RecordAction(ctx, &contracts.Action{
		AgentID:    "agent-1",
		ActionType: "ANALYZE",
		Inputs:     contracts.Payload{"wrong": true},
	})
	require.NoError(t, err)

	report, err := f.svc.VerifyAction(ctx, badID)
	require.NoError(t, err)
	require.False(t, report.Verified)

	report, err = f.svc.VerifyAction(ctx, badID)
	require.NoError(t, err)
	require.False(t, report.Verified)

	bad, err := f.svc.GetAction(ctx, badID)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRejected, bad.Status)
}

func TestLeaderboardOrdersByScore(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	for _, desc := range []string{"first pass", "second pass"} {
		id, err := f.svc.RecordAction(ctx, &contracts.Action{
			AgentID:     "agent-1",
			ActionType:  "ANALYZE",
			Description: desc,
			Inputs:      contracts.Payload{"dataset": "eth-4h"},
		})
		require.NoError(t, err)
		_, err = f.svc.VerifyAction(ctx, id)
		require.NoError(t, err)
		_, err = f.svc.RecordOutcome(ctx, id, true, 1.0, nil)
		require.NoError(t, err)
	}

	board, err := f.svc.Leaderboard(ctx, "ANALYZE", 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.Equal(t, "agent-1", board[0].AgentID)
	require.Equal(t, 2, board[0].SampleCount)
}

func TestNewValidatedRejectsMissingRegistry(t *testing.T) {
	_, err := NewValidated(Components{})
	require.Error(t, err)
}
