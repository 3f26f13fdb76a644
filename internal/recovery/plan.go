package recovery

import "time"

// RiskLevel rates how much data a Plan's actions put at risk.
// Ordered low to high so max(a, b) by integer value picks the worse one.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if b > a {
		return b
	}
	return a
}

// ActionKind is the repair operation one Action performs.
type ActionKind string

const (
	ActionReplayTransaction ActionKind = "replay_transaction"
	ActionRebuildSnapshot   ActionKind = "rebuild_snapshot"
	ActionRepairContent     ActionKind = "repair_content"
	ActionRemoveOrphan      ActionKind = "remove_orphan"
	ActionRecomputeChecksum ActionKind = "recompute_checksum"
)

// RepairStrategy picks how RepairContent tries to recover a blob.
type RepairStrategy string

const (
	RepairRecomputeFromGraph RepairStrategy = "recompute_from_graph"
	RepairMarkCorrupted      RepairStrategy = "mark_corrupted"
)

// Action is one step of a Plan.
type Action struct {
	Kind ActionKind

	TransactionID string // ReplayTransaction
	VersionID     string // RebuildSnapshot, RemoveOrphan
	ContentHash   string // RepairContent, RecomputeChecksum
	ReferencedBy  []string
	Strategy      RepairStrategy
}

// Plan is a batch of Actions rated by the worst risk among them. Only
// RiskLow plans are safe to apply without an operator confirming first.
type Plan struct {
	Timestamp         time.Time
	Actions           []Action
	EstimatedDuration time.Duration
	Risk              RiskLevel
}

// BuildPlan turns a Report's issues into an ordered set of repair actions,
// mirroring the per-issue-kind dispatch of a reference recovery manager:
// each issue kind maps to exactly one action kind, and the plan's risk is
// the worst risk any single action carries.
func BuildPlan(report Report) Plan {
	var actions []Action
	risk := RiskLow

	for _, issue := range report.Issues {
		switch issue.Kind {
		case IssueCorruptedTransaction, IssueInconsistentWriteSet:
			actions = append(actions, Action{Kind: ActionReplayTransaction, TransactionID: issue.TransactionID})
			risk = maxRisk(risk, RiskMedium)
		case IssueOrphanedSnapshot:
			actions = append(actions, Action{Kind: ActionRemoveOrphan, VersionID: issue.VersionID})
		case IssueMissingContent:
			strategy := RepairMarkCorrupted
			if len(issue.ReferencedBy) > 0 {
				strategy = RepairRecomputeFromGraph
			}
			actions = append(actions, Action{
				Kind: ActionRepairContent, ContentHash: issue.ContentHash,
				ReferencedBy: issue.ReferencedBy, Strategy: strategy,
			})
			risk = maxRisk(risk, RiskHigh)
		case IssueInvalidChecksum:
			actions = append(actions, Action{Kind: ActionRecomputeChecksum, ContentHash: issue.ContentHash})
		case IssueWalSequenceGap:
			// A gap in the durable log is the one finding no in-process
			// action can repair: the record is gone. Surfaced for an
			// operator to decide whether a backup covers it.
			risk = maxRisk(risk, RiskCritical)
		}
	}

	return Plan{
		Timestamp: report.Timestamp,
		Actions:   actions,
		// 10s base per action plus 30s per corrupted-data finding, the same
		// back-of-envelope estimate a reference recovery manager uses.
		EstimatedDuration: time.Duration(len(actions))*10*time.Second + time.Duration(report.CorruptedDataCount)*30*time.Second,
		Risk:              risk,
	}
}
