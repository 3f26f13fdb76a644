package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/codegraph-io/codegraph/internal/cas"
	"github.com/codegraph-io/codegraph/internal/graph"
	"github.com/codegraph-io/codegraph/internal/txn"
	"github.com/codegraph-io/codegraph/internal/version"
	"github.com/codegraph-io/codegraph/internal/wal"
)

// Config tunes a Checker's scan behavior: sampling rate, scan interval, and
// on-demand rate limiting.
type Config struct {
	// Interval between background integrity checks.
	Interval time.Duration
	// SampleRate is the fraction (0,1] of CAS blobs the content-integrity
	// pass rehashes per run, independent of the node-level check. 1.0
	// rehashes every blob; a small store can afford that, a large one
	// should sample.
	SampleRate float64
	// StaleActiveTxn marks a transaction CorruptedTransaction if it has
	// been active longer than this without committing or aborting.
	StaleActiveTxn time.Duration
	// OnDemandBurst/OnDemandPerMinute bound how often RunIntegrityCheck can
	// be triggered outside the background ticker (e.g. from an ops
	// endpoint), so a misbehaving caller can't turn a scan into a
	// self-inflicted load spike.
	OnDemandBurst     int
	OnDemandPerMinute float64
}

// DefaultConfig favors hourly scans, a full rehash pass (suitable for small
// stores), and a 10-minute staleness bound on in-flight transactions.
func DefaultConfig() Config {
	return Config{
		Interval:          time.Hour,
		SampleRate:        1.0,
		StaleActiveTxn:    10 * time.Minute,
		OnDemandBurst:     2,
		OnDemandPerMinute: 6,
	}
}

// Checker runs the four integrity checks over the live storage layers and
// tracks recovery-state across runs: when the last
// check ran, how many repair attempts have failed in a row, and which
// content hashes have been quarantined rather than repaired.
type Checker struct {
	cfg Config

	blobs    *cas.Store
	wal      *wal.Log
	versions *version.Manager
	txns     *txn.Manager
	g        *graph.Graph

	logger  *slog.Logger
	limiter *rate.Limiter
	applier Applier

	mu                     sync.RWMutex
	lastCheck              time.Time
	recoveryInProgress     bool
	failedRecoveryAttempts int
	quarantined            map[string]string // content hash -> reason

	stop context.CancelFunc
	done chan struct{}
}

// Option configures a Checker.
type Option func(*Checker)

func WithLogger(l *slog.Logger) Option { return func(c *Checker) { c.logger = l } }

// NewChecker builds a Checker over the given storage layers. versions/txns
// may be nil if those layers aren't wired in a given deployment (e.g. a
// read-only replica checking only content integrity); the corresponding
// check is then skipped rather than erroring.
func NewChecker(blobs *cas.Store, w *wal.Log, versions *version.Manager, txns *txn.Manager, g *graph.Graph, cfg Config, opts ...Option) *Checker {
	c := &Checker{
		cfg: cfg, blobs: blobs, wal: w, versions: versions, txns: txns, g: g,
		logger:      slog.Default(),
		limiter:     rate.NewLimiter(rate.Limit(cfg.OnDemandPerMinute/60.0), max(cfg.OnDemandBurst, 1)),
		quarantined: make(map[string]string),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the periodic background scan; low-risk plans are applied
// automatically, everything else is only logged for an operator to act on.
// Callers must eventually cancel ctx and should not call Start twice.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.stop = context.WithCancel(ctx)
	go c.loop(ctx)
}

// Stop cancels the background scan and waits for it to exit.
func (c *Checker) Stop() {
	if c.stop == nil {
		return
	}
	c.stop()
	<-c.done
}

func (c *Checker) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := c.runChecks(ctx)
			if err != nil {
				c.logger.Error("recovery: integrity check failed", "error", err)
				continue
			}
			if len(report.Issues) == 0 {
				continue
			}
			c.logger.Warn("recovery: integrity check found issues", "count", len(report.Issues))
			plan := BuildPlan(report)
			if plan.Risk == RiskLow {
				if err := c.ExecuteRecoveryPlan(ctx, plan); err != nil {
					c.logger.Error("recovery: automatic recovery failed", "error", err)
				}
			}
		}
	}
}

// RunIntegrityCheck runs all four checks once. Rate-limited so a caller
// triggering it on demand (e.g. from an ops endpoint) can't turn repeated
// requests into a scan storm; the background ticker calls runChecks
// directly and is bound only by Config.Interval instead.
func (c *Checker) RunIntegrityCheck(ctx context.Context) (Report, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Report{}, err
	}
	return c.runChecks(ctx)
}

func (c *Checker) runChecks(ctx context.Context) (Report, error) {
	ctx, span := otel.Tracer("internal/recovery").Start(ctx, "Checker.RunIntegrityCheck")
	defer span.End()

	report := Report{Timestamp: time.Now()}

	if err := c.checkTransactionConsistency(&report); err != nil {
		span.RecordError(err)
		report.CorruptedDataCount++
		c.logger.Error("recovery: transaction consistency check failed", "error", err)
	}
	if err := c.checkSnapshotIntegrity(&report); err != nil {
		span.RecordError(err)
		report.CorruptedDataCount++
		c.logger.Error("recovery: snapshot integrity check failed", "error", err)
	}
	if err := c.checkContentStore(ctx, &report); err != nil {
		span.RecordError(err)
		report.CorruptedDataCount++
		c.logger.Error("recovery: content store integrity check failed", "error", err)
	}
	if err := c.checkWalConsistency(&report); err != nil {
		span.RecordError(err)
		report.CorruptedDataCount++
		c.logger.Error("recovery: WAL consistency check failed", "error", err)
	}

	if len(report.Issues) > 0 {
		span.SetStatus(codes.Error, "integrity issues found")
	}

	c.mu.Lock()
	c.lastCheck = report.Timestamp
	c.mu.Unlock()
	return report, nil
}

// checkTransactionConsistency flags any in-flight transaction that has been
// active longer than Config.StaleActiveTxn: on a healthy system every
// transaction commits or aborts well within that window, so one still open
// almost certainly belongs to a process that crashed mid-transaction.
func (c *Checker) checkTransactionConsistency(report *Report) error {
	if c.txns == nil {
		return nil
	}
	now := time.Now()
	for _, t := range c.txns.ActiveTransactions() {
		if now.Sub(t.StartedAt) <= c.cfg.StaleActiveTxn {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Kind:          IssueCorruptedTransaction,
			TransactionID: t.ID.String(),
			Detail:        "active longer than the stale-transaction threshold",
		})
	}
	return nil
}

// checkSnapshotIntegrity flags any ref whose target version isn't present
// in the version DAG, which can happen if the DAG was only partially
// rebuilt from a truncated WAL after a crash.
func (c *Checker) checkSnapshotIntegrity(report *Report) error {
	if c.versions == nil {
		return nil
	}
	known := make(map[string]bool)
	for _, v := range c.versions.Versions() {
		known[v.ID.String()] = true
	}
	for _, r := range c.versions.Refs() {
		if r.Target.IsNil() || known[r.Target.String()] {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Kind:      IssueOrphanedSnapshot,
			VersionID: r.Target.String(),
			Detail:    "ref " + r.Name + " points at an unknown version",
		})
		report.OrphanedSnapshots = append(report.OrphanedSnapshots, r.Target.String())
	}
	return nil
}

// checkContentStore verifies every live node's expected content blob is
// present and, for a sampled subset, rehashes on read to catch bit rot.
// blobs.Get already rehashes and returns KindCorrupted on mismatch; the
// sampling only controls how much of that I/O this pass spends.
func (c *Checker) checkContentStore(ctx context.Context, report *Report) error {
	if c.g == nil || c.blobs == nil {
		return nil
	}
	rate := c.cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	var i int
	for _, id := range c.g.NodeIDs() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := c.g.GetNode(id)
		if err != nil {
			continue
		}
		enc, err := graph.CanonicalContentBytes(n)
		if err != nil {
			continue
		}
		want := cas.Sum(enc)

		if !c.blobs.Has(want) {
			report.Issues = append(report.Issues, Issue{
				Kind: IssueMissingContent, ContentHash: want.String(),
				ReferencedBy: []string{id.String()},
			})
			report.MissingContentHashes = append(report.MissingContentHashes, want.String())
			continue
		}

		i++
		if !sampled(i, rate) {
			continue
		}
		if _, err := c.blobs.Get(want); err != nil {
			report.Issues = append(report.Issues, Issue{
				Kind: IssueInvalidChecksum, ContentHash: want.String(),
				ReferencedBy: []string{id.String()}, Detail: err.Error(),
			})
			report.ChecksumMismatches++
		}
	}
	return nil
}

// sampled deterministically selects roughly rate*100% of a monotonically
// increasing index i, so repeated runs at the same rate cover the same
// positions rather than drawing a new random subset every time.
func sampled(i int, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	step := int(1.0 / rate)
	if step < 1 {
		step = 1
	}
	return i%step == 0
}

// checkWalConsistency verifies the WAL's sequence numbers are gapless from
// the first record it can read; a gap means a segment was lost or
// truncated outside of TruncateBefore's own bookkeeping.
func (c *Checker) checkWalConsistency(report *Report) error {
	if c.wal == nil {
		return nil
	}
	var prev uint64
	var first = true
	return c.wal.IterFrom(0, func(r wal.Record) error {
		if !first && r.Seq != prev+1 {
			report.Issues = append(report.Issues, Issue{
				Kind:   IssueWalSequenceGap,
				WalSeq: r.Seq,
				Detail: "sequence jumped from a prior record without an intervening value",
			})
		}
		prev = r.Seq
		first = false
		return nil
	})
}

// Statistics is a point-in-time view of the Checker's own recovery state,
// for an ops surface to report without re-running a scan.
type Statistics struct {
	LastCheck              time.Time
	RecoveryInProgress     bool
	FailedRecoveryAttempts int
	QuarantinedItems       int
}

func (c *Checker) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Statistics{
		LastCheck:              c.lastCheck,
		RecoveryInProgress:     c.recoveryInProgress,
		FailedRecoveryAttempts: c.failedRecoveryAttempts,
		QuarantinedItems:       len(c.quarantined),
	}
}
