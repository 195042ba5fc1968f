// Package store implements the Store (C3): transactional Postgres access
// for the engine's tables, idempotent upserts by natural key, and a
// self-healing connection pool. Directly grounded on the teacher's
// internal/db.PostgresStore (pgxpool, Connect/Close/InitSchema, the
// tx.Begin/defer Rollback/Commit pattern).
package store

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

// Connect mirrors the teacher's db.Connect: pgxpool.New then a liveness
// Ping before returning.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", models.ErrDatabaseUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", models.ErrDatabaseUnavailable, err)
	}
	log.Println("[store] connected to PostgreSQL")
	return &Store{pool: pool, dsn: dsn}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded bootstrap SQL once at startup.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	log.Println("[store] schema initialized")
	return nil
}

// HealthCheck re-pings the pool and transparently re-establishes it on
// failure, per §4.3's "self-healing reconnect policy".
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err == nil {
		return nil
	}
	log.Println("[store] health check failed, reconnecting")
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("%w: reconnect: %v", models.ErrDatabaseUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: reconnect ping: %v", models.ErrDatabaseUnavailable, err)
	}
	old := s.pool
	s.pool = pool
	old.Close()
	return nil
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// RoundExists checks whether epoch has already been committed, for §4.5
// step 1's idempotence skip.
func (s *Store) RoundExists(ctx context.Context, epoch int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM round WHERE epoch = $1)`, epoch).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: round exists: %w", err)
	}
	return exists, nil
}

// FailedEpochCount returns the current failure_count for epoch, or 0 if
// never recorded, for §4.5 step 1's quarantine skip.
func (s *Store) FailedEpochCount(ctx context.Context, epoch int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT failure_count FROM failed_epoch WHERE epoch = $1`, epoch).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed epoch count: %w", err)
	}
	return count, nil
}

// CommitEpoch is the §4.5/§4.3 atomic epoch commit: the round row, every
// bet, and every claim land in a single transaction, or none do.
func (s *Store) CommitEpoch(ctx context.Context, round models.Round, bets []models.HisBet, claims []models.Claim) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrDatabaseUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	resultVal := any(nil)
	if round.Result != "" {
		resultVal = string(round.Result)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO round (epoch, start_ts, lock_ts, close_ts, lock_price, close_price, result,
			total_amount, up_amount, down_amount, up_payout, down_payout)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (epoch) DO UPDATE SET
			start_ts = EXCLUDED.start_ts, lock_ts = EXCLUDED.lock_ts, close_ts = EXCLUDED.close_ts,
			lock_price = EXCLUDED.lock_price, close_price = EXCLUDED.close_price, result = EXCLUDED.result,
			total_amount = EXCLUDED.total_amount, up_amount = EXCLUDED.up_amount, down_amount = EXCLUDED.down_amount,
			up_payout = EXCLUDED.up_payout, down_payout = EXCLUDED.down_payout`,
		round.Epoch, round.StartTS, round.LockTS, round.CloseTS, round.LockPrice, round.ClosePrice, resultVal,
		round.TotalAmount, round.UpAmount, round.DownAmount, round.UpPayout, round.DownPayout)
	if err != nil {
		return fmt.Errorf("store: upsert round: %w", err)
	}

	for _, b := range bets {
		betResultVal := any(nil)
		if b.Result != "" {
			betResultVal = string(b.Result)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO hisbet (epoch, bet_ts, wallet_address, bet_direction, amount, result, tx_hash)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (tx_hash) DO UPDATE SET
				bet_ts = EXCLUDED.bet_ts, wallet_address = EXCLUDED.wallet_address,
				bet_direction = EXCLUDED.bet_direction, amount = EXCLUDED.amount, result = EXCLUDED.result`,
			b.Epoch, b.BetTS, b.WalletAddress, string(b.BetDirection), b.Amount, betResultVal, b.TxHash)
		if err != nil {
			return fmt.Errorf("store: upsert hisbet %s: %w", b.TxHash, err)
		}
	}

	for _, c := range claims {
		_, err = tx.Exec(ctx, `
			INSERT INTO claim (epoch, claim_ts, wallet_address, claim_amount, bet_epoch, tx_hash)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (tx_hash) DO UPDATE SET
				claim_ts = EXCLUDED.claim_ts, wallet_address = EXCLUDED.wallet_address,
				claim_amount = EXCLUDED.claim_amount, bet_epoch = EXCLUDED.bet_epoch`,
			c.Epoch, c.ClaimTS, c.WalletAddress, c.ClaimAmount, c.BetEpoch, c.TxHash)
		if err != nil {
			return fmt.Errorf("store: upsert claim %s: %w", c.TxHash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrDatabaseUnavailable, err)
	}
	return nil
}

// DeletePartialEpoch removes any round/hisbet/claim rows for epoch, used
// after an IntegrityCheckFailed per §4.5 step 8.
func (s *Store) DeletePartialEpoch(ctx context.Context, epoch int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", models.ErrDatabaseUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"round", "hisbet", "claim"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE epoch = $1`, table), epoch); err != nil {
			return fmt.Errorf("store: delete partial %s for epoch %d: %w", table, epoch, err)
		}
	}
	return tx.Commit(ctx)
}

// RecordFailedEpoch upserts failed_epoch, incrementing failure_count, and
// returns the new count so the caller can decide whether to quarantine.
func (s *Store) RecordFailedEpoch(ctx context.Context, epoch int64, errMsg, attemptTS string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO failed_epoch (epoch, error_message, last_attempt_ts, failure_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (epoch) DO UPDATE SET
			error_message = EXCLUDED.error_message,
			last_attempt_ts = EXCLUDED.last_attempt_ts,
			failure_count = failed_epoch.failure_count + 1
		RETURNING failure_count`, epoch, errMsg, attemptTS).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: record failed epoch %d: %w", epoch, err)
	}
	return count, nil
}

// InsertRealBet appends a live bet to the hot table, idempotent on
// (epoch, wallet_address) per §4.3.
func (s *Store) InsertRealBet(ctx context.Context, b models.RealBet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO realbet (epoch, bet_ts, wallet_address, bet_direction, amount)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (epoch, wallet_address) DO UPDATE SET
			bet_ts = EXCLUDED.bet_ts, bet_direction = EXCLUDED.bet_direction, amount = EXCLUDED.amount`,
		b.Epoch, b.BetTS, b.WalletAddress, string(b.BetDirection), b.Amount)
	if err != nil {
		return fmt.Errorf("store: insert realbet: %w", err)
	}
	return nil
}

// DeleteRealBetEpoch removes the hot-table rows for a single epoch, run
// by §4.5 step 10 after that epoch's commit.
func (s *Store) DeleteRealBetEpoch(ctx context.Context, epoch int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM realbet WHERE epoch = $1`, epoch)
	if err != nil {
		return fmt.Errorf("store: delete realbet epoch %d: %w", epoch, err)
	}
	return nil
}

// SweepRealBet deletes hot-table rows older than belowEpoch, enforcing
// the "most recent three epochs" bound from §3/§8.
func (s *Store) SweepRealBet(ctx context.Context, belowEpoch int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM realbet WHERE epoch < $1`, belowEpoch)
	if err != nil {
		return fmt.Errorf("store: sweep realbet below %d: %w", belowEpoch, err)
	}
	return nil
}

// RecentRealBets loads up to limit of the most recently inserted hot
// rows, used by C6 to warm-restore its in-memory dedup set on startup.
func (s *Store) RecentRealBets(ctx context.Context, limit int) ([]models.RealBet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT epoch, bet_ts, wallet_address, bet_direction, amount
		FROM realbet ORDER BY inserted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent realbets: %w", err)
	}
	defer rows.Close()

	var out []models.RealBet
	for rows.Next() {
		var b models.RealBet
		var dir string
		if err := rows.Scan(&b.Epoch, &b.BetTS, &b.WalletAddress, &dir, &b.Amount); err != nil {
			return nil, fmt.Errorf("store: scan realbet: %w", err)
		}
		b.BetDirection = models.Direction(dir)
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetClaimsForEpoch loads the claim rows stamped with processing epoch
// `epoch`, for C4-offline's §4.5 step 11 pass.
func (s *Store) GetClaimsForEpoch(ctx context.Context, epoch int64) ([]models.Claim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT epoch, claim_ts, wallet_address, claim_amount, bet_epoch, tx_hash
		FROM claim WHERE epoch = $1`, epoch)
	if err != nil {
		return nil, fmt.Errorf("store: claims for epoch %d: %w", epoch, err)
	}
	defer rows.Close()

	var out []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.Epoch, &c.ClaimTS, &c.WalletAddress, &c.ClaimAmount, &c.BetEpoch, &c.TxHash); err != nil {
			return nil, fmt.Errorf("store: scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertMultiClaim records an offline abuse finding, keyed (epoch, wallet).
func (s *Store) UpsertMultiClaim(ctx context.Context, mc models.MultiClaim) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO multi_claims (epoch, wallet_address, claim_count, total_amount)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (epoch, wallet_address) DO UPDATE SET
			claim_count = EXCLUDED.claim_count, total_amount = EXCLUDED.total_amount`,
		mc.Epoch, mc.WalletAddress, mc.ClaimCount, mc.TotalAmount)
	if err != nil {
		return fmt.Errorf("store: upsert multi_claims: %w", err)
	}
	return nil
}

// UpsertWalletNote writes C4's human-readable auto-note.
func (s *Store) UpsertWalletNote(ctx context.Context, n models.WalletNote) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_note (wallet_address, note, flags, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (wallet_address) DO UPDATE SET
			note = EXCLUDED.note, flags = EXCLUDED.flags, updated_at = EXCLUDED.updated_at`,
		n.WalletAddress, n.Note, n.Flags, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert wallet_note: %w", err)
	}
	return nil
}

// HasWalletNote reports whether wallet already has a note, per §4.4's
// "if ... the wallet has no prior note" gate.
func (s *Store) HasWalletNote(ctx context.Context, wallet string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wallet_note WHERE wallet_address = $1)`, wallet).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: has wallet note: %w", err)
	}
	return exists, nil
}
