package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/repscore/internal/risk"
	"github.com/mbd888/repscore/internal/syncutil"
	"github.com/mbd888/repscore/internal/traces"
)

// Engine applies activities to profiles and derives risk reports. Mutating
// calls for the same user are serialized end to end; calls for different
// users run concurrently.
type Engine struct {
	store  Store
	gate   Gate
	clock  Clock
	locks  *syncutil.KeyedMutex
	events EventEmitter
	logger *slog.Logger
}

// NewEngine creates an engine. A nil gate admits every caller.
func NewEngine(store Store, gate Gate, clock Clock, logger *slog.Logger) *Engine {
	if gate == nil {
		gate = AllowAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		gate:   gate,
		clock:  clock,
		locks:  syncutil.NewKeyedMutex(syncutil.DefaultShards),
		logger: logger,
	}
}

// WithEvents attaches an emitter notified after each successful commit.
func (e *Engine) WithEvents(em EventEmitter) *Engine {
	e.events = em
	return e
}

// Register creates the profile for user with the initial score.
func (e *Engine) Register(ctx context.Context, caller Caller, user common.Address) (_ *Profile, err error) {
	ctx, span := traces.StartSpan(ctx, "reputation.Register",
		traces.User(user.Hex()), traces.Caller(caller.Address.Hex()))
	done := observeOp(OpRegister)
	defer func() {
		done(err)
		traces.End(span, err)
	}()

	if err := e.gate.Check(ctx, caller, OpRegister, user); err != nil {
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, user.Bytes())
	if err != nil {
		return nil, err
	}
	defer unlock()

	now, err := e.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read clock: %w", err)
	}
	if err := checkTimestamp(now); err != nil {
		return nil, err
	}

	p := &Profile{
		User:              user,
		ReputationScore:   InitialScore,
		LastActivity:      now,
		RegistrationBlock: now,
		IsActive:          true,
	}
	if err := e.store.CreateProfile(ctx, p); err != nil {
		return nil, err
	}

	RegistrationsTotal.Inc()
	e.logger.Info("user registered", "user", user.Hex(), "block", now)
	if e.events != nil {
		e.events.EmitRegistered(p)
	}
	return p, nil
}

// RecordActivity applies one activity to user's profile and appends it to
// the ledger. The stored ScoreImpact is the raw delta; the score itself is
// clamped to [MinScore, MaxScore].
func (e *Engine) RecordActivity(ctx context.Context, caller Caller, user common.Address, t ActivityType, amount uint64) (_ *ActivityResult, err error) {
	ctx, span := traces.StartSpan(ctx, "reputation.RecordActivity",
		traces.User(user.Hex()), traces.Caller(caller.Address.Hex()), traces.ActivityType(t.String()))
	done := observeOp(OpRecordActivity)
	defer func() {
		done(err)
		traces.End(span, err)
	}()

	if err := e.gate.Check(ctx, caller, OpRecordActivity, user); err != nil {
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, user.Bytes())
	if err != nil {
		return nil, err
	}
	defer unlock()

	now, err := e.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read clock: %w", err)
	}
	if err := checkTimestamp(now); err != nil {
		return nil, err
	}

	impact := Impact(t, amount)
	var bound string
	profile, rec, err := e.store.ApplyActivity(ctx, user, func(p *Profile) (*ActivityRecord, error) {
		next := clampScore(p.ReputationScore, impact)
		if raw := int64(p.ReputationScore) + impact; raw != int64(next) {
			bound = "upper"
			if raw < MinScore {
				bound = "lower"
			}
		}

		p.ReputationScore = next
		p.TotalTransactions++
		switch t {
		case LoanRepaid:
			p.SuccessfulLoans++
		case Liquidated:
			p.Liquidations++
		}
		p.LastActivity = now

		return &ActivityRecord{
			User:         user,
			ActivityType: t,
			Amount:       amount,
			Timestamp:    now,
			ScoreImpact:  impact,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	ActivitiesTotal.WithLabelValues(t.String()).Inc()
	if bound != "" {
		ClampedTotal.WithLabelValues(bound).Inc()
	}
	span.SetAttributes(traces.ActivityID(rec.ID), traces.Score(profile.ReputationScore))

	e.logger.Debug("activity recorded",
		"user", user.Hex(),
		"activity_id", rec.ID,
		"type", t.String(),
		"impact", impact,
		"score", profile.ReputationScore)

	if e.events != nil {
		e.events.EmitScoreUpdated(profile, rec)
	}
	return &ActivityResult{NewScore: profile.ReputationScore, ActivityID: rec.ID}, nil
}

// Assess derives the risk report for user at now and stores a snapshot keyed
// by (user, now). A later assessment at the same now replaces the snapshot.
func (e *Engine) Assess(ctx context.Context, caller Caller, user common.Address, now uint64) (_ *risk.Report, err error) {
	ctx, span := traces.StartSpan(ctx, "reputation.Assess",
		traces.User(user.Hex()), traces.Timestamp(now))
	done := observeOp(OpAssess)
	defer func() {
		done(err)
		traces.End(span, err)
	}()

	if err := e.gate.Check(ctx, caller, OpAssess, user); err != nil {
		return nil, err
	}
	if err := checkTimestamp(now); err != nil {
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, user.Bytes())
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := e.store.GetProfile(ctx, user)
	if err != nil {
		return nil, err
	}

	report := risk.Assess(risk.Input{
		ReputationScore:   p.ReputationScore,
		TotalTransactions: p.TotalTransactions,
		SuccessfulLoans:   p.SuccessfulLoans,
		Liquidations:      p.Liquidations,
		RegistrationBlock: p.RegistrationBlock,
	}, now)
	report.User = user.Hex()

	if err := e.store.SaveSnapshot(ctx, &Snapshot{
		User:      user,
		Score:     p.ReputationScore,
		RiskLevel: report.RiskLevel,
		Timestamp: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	AssessmentsTotal.WithLabelValues(riskLevelLabel(report.RiskLevel)).Inc()
	span.SetAttributes(traces.RiskLevel(report.RiskLevel), traces.Score(report.ReputationScore))

	if e.events != nil {
		e.events.EmitRiskAssessed(user, report.RiskLevel, report.ReputationScore, now)
	}
	return report, nil
}

// AssessNow runs Assess at the clock's current time.
func (e *Engine) AssessNow(ctx context.Context, caller Caller, user common.Address) (*risk.Report, error) {
	now, err := e.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read clock: %w", err)
	}
	return e.Assess(ctx, caller, user, now)
}

// GetProfile returns user's profile or ErrUserNotFound.
func (e *Engine) GetProfile(ctx context.Context, user common.Address) (*Profile, error) {
	return e.store.GetProfile(ctx, user)
}

// GetActivity returns the ledger entry id if it belongs to user.
func (e *Engine) GetActivity(ctx context.Context, user common.Address, id uint64) (*ActivityRecord, error) {
	return e.store.GetActivity(ctx, user, id)
}

// ListActivities returns user's most recent activities, newest first.
func (e *Engine) ListActivities(ctx context.Context, user common.Address, limit int) ([]*ActivityRecord, error) {
	if _, err := e.store.GetProfile(ctx, user); err != nil {
		return nil, err
	}
	return e.store.ListActivities(ctx, user, normalizeLimit(limit))
}

// History returns stored snapshots for the query, newest first.
func (e *Engine) History(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	if q.To != 0 && q.From > q.To {
		return nil, fmt.Errorf("%w: from %d is after to %d", ErrInvalidRange, q.From, q.To)
	}
	if q.From > MaxTimestamp {
		return nil, fmt.Errorf("%w: from %d exceeds %d", ErrInvalidRange, q.From, uint64(MaxTimestamp))
	}
	if q.To > MaxTimestamp {
		q.To = MaxTimestamp
	}
	q.Limit = normalizeLimit(q.Limit)
	return e.store.QuerySnapshots(ctx, q)
}

// TotalUsers returns the running count of successful registrations.
func (e *Engine) TotalUsers(ctx context.Context) (uint64, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return st.TotalUsers, nil
}

// Stats returns the store-wide counters.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	return e.store.Stats(ctx)
}

// Now exposes the engine clock for callers that default a time parameter.
func (e *Engine) Now(ctx context.Context) (uint64, error) {
	return e.clock.Now(ctx)
}

func checkTimestamp(ts uint64) error {
	if ts > MaxTimestamp {
		return fmt.Errorf("%w: %d exceeds %d", ErrTimestampRange, ts, uint64(MaxTimestamp))
	}
	return nil
}

// IsNotFound reports whether err means the user or record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrActivityNotFound)
}
