package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/repscore/migrations"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

const (
	counterActivity = "activity"
	counterUsers    = "users"
)

// PostgresStore implements Store backed by PostgreSQL. Each ApplyActivity
// runs in one transaction that row-locks the profile and the activity
// counter, so concurrent writers on other processes serialize correctly.
// Time values arrive bounded by MaxTimestamp and are stored as BIGINT.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reputation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies any pending migrations from the embedded migrations
// package. Production deployments may run cmd/migrate instead; both read the
// same files and record progress in goose_db_version.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, p.db, migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (p *PostgresStore) CreateProfile(ctx context.Context, prof *Profile) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reputation_profiles (
			user_addr, reputation_score, total_transactions, successful_loans,
			liquidations, last_activity, registration_block, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_addr) DO NOTHING
	`,
		addrKey(prof.User), int64(prof.ReputationScore), int64(prof.TotalTransactions),
		int64(prof.SuccessfulLoans), int64(prof.Liquidations),
		int64(prof.LastActivity), int64(prof.RegistrationBlock), prof.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reputation_counters SET value = value + 1 WHERE name = $1`, counterUsers,
	); err != nil {
		return fmt.Errorf("bump user counter: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		addr                                        string
		score, total, loans, liqs, last, registered int64
		active                                      bool
	)
	if err := row.Scan(&addr, &score, &total, &loans, &liqs, &last, &registered, &active); err != nil {
		return nil, err
	}
	return &Profile{
		User:              common.HexToAddress(addr),
		ReputationScore:   uint64(score),
		TotalTransactions: uint64(total),
		SuccessfulLoans:   uint64(loans),
		Liquidations:      uint64(liqs),
		LastActivity:      uint64(last),
		RegistrationBlock: uint64(registered),
		IsActive:          active,
	}, nil
}

const profileColumns = `user_addr, reputation_score, total_transactions, successful_loans,
	liquidations, last_activity, registration_block, is_active`

func (p *PostgresStore) GetProfile(ctx context.Context, user common.Address) (*Profile, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM reputation_profiles WHERE user_addr = $1`, addrKey(user))
	prof, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return prof, nil
}

func (p *PostgresStore) ListUsers(ctx context.Context, limit int) ([]common.Address, error) {
	query := `SELECT user_addr FROM reputation_profiles ORDER BY created_at, user_addr`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []common.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, common.HexToAddress(addr))
	}
	return out, rows.Err()
}

func (p *PostgresStore) ApplyActivity(ctx context.Context, user common.Address, fn ApplyFunc) (*Profile, *ActivityRecord, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM reputation_profiles WHERE user_addr = $1 FOR UPDATE`, addrKey(user))
	prof, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock profile: %w", err)
	}

	rec, err := fn(prof)
	if err != nil {
		return nil, nil, err
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE reputation_counters SET value = value + 1 WHERE name = $1 RETURNING value - 1`, counterActivity,
	).Scan(&id); err != nil {
		return nil, nil, fmt.Errorf("advance activity counter: %w", err)
	}
	rec.ID = uint64(id)
	rec.User = user

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reputation_activities (id, user_addr, activity_type, amount, block_time, score_impact)
		VALUES ($1, $2, $3, $4::NUMERIC(20,0), $5, $6)
	`,
		id, addrKey(user), int(rec.ActivityType),
		strconv.FormatUint(rec.Amount, 10), int64(rec.Timestamp), rec.ScoreImpact,
	); err != nil {
		return nil, nil, fmt.Errorf("insert activity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE reputation_profiles SET
			reputation_score = $2, total_transactions = $3, successful_loans = $4,
			liquidations = $5, last_activity = $6
		WHERE user_addr = $1
	`,
		addrKey(user), int64(prof.ReputationScore), int64(prof.TotalTransactions),
		int64(prof.SuccessfulLoans), int64(prof.Liquidations), int64(prof.LastActivity),
	); err != nil {
		return nil, nil, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit activity: %w", err)
	}
	return prof, rec, nil
}

func scanActivity(row rowScanner) (*ActivityRecord, error) {
	var (
		id, blockTime, impact int64
		addr, amount          string
		kind                  int
	)
	if err := row.Scan(&id, &addr, &kind, &amount, &blockTime, &impact); err != nil {
		return nil, err
	}
	amt, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &ActivityRecord{
		ID:           uint64(id),
		User:         common.HexToAddress(addr),
		ActivityType: ActivityType(kind),
		Amount:       amt,
		Timestamp:    uint64(blockTime),
		ScoreImpact:  impact,
	}, nil
}

const activityColumns = `id, user_addr, activity_type, amount::TEXT, block_time, score_impact`

func (p *PostgresStore) GetActivity(ctx context.Context, user common.Address, id uint64) (*ActivityRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM reputation_activities WHERE id = $1 AND user_addr = $2`,
		int64(id), addrKey(user))
	rec, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return rec, nil
}

func (p *PostgresStore) ListActivities(ctx context.Context, user common.Address, limit int) ([]*ActivityRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM reputation_activities WHERE user_addr = $1 ORDER BY id DESC LIMIT $2`,
		addrKey(user), limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation_snapshots (user_addr, period, score, risk_level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_addr, period) DO UPDATE SET
			score = EXCLUDED.score,
			risk_level = EXCLUDED.risk_level,
			created_at = NOW()
	`, addrKey(snap.User), int64(snap.Timestamp), int64(snap.Score), int64(snap.RiskLevel))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var (
		addr                     string
		period, score, riskLevel int64
	)
	if err := row.Scan(&addr, &period, &score, &riskLevel); err != nil {
		return nil, err
	}
	return &Snapshot{
		User:      common.HexToAddress(addr),
		Score:     uint64(score),
		RiskLevel: uint64(riskLevel),
		Timestamp: uint64(period),
	}, nil
}

func (p *PostgresStore) GetSnapshot(ctx context.Context, user common.Address, at uint64) (*Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_addr, period, score, risk_level
		FROM reputation_snapshots WHERE user_addr = $1 AND period = $2
	`, addrKey(user), int64(at))
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (p *PostgresStore) QuerySnapshots(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	query := `SELECT user_addr, period, score, risk_level FROM reputation_snapshots WHERE user_addr = $1`
	args := []any{addrKey(q.User)}
	argN := 2

	if q.From != 0 {
		query += fmt.Sprintf(" AND period >= $%d", argN)
		args = append(args, int64(q.From))
		argN++
	}
	if q.To != 0 {
		query += fmt.Sprintf(" AND period <= $%d", argN)
		args = append(args, int64(q.To))
		argN++
	}
	query += " ORDER BY period DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name, value FROM reputation_counters`)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	st := &Stats{}
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		switch name {
		case counterActivity:
			st.TotalActivities = uint64(value)
		case counterUsers:
			st.TotalUsers = uint64(value)
		}
	}
	return st, rows.Err()
}

// Ping reports whether the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
