package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ubersystem/internal/automail"
	"ubersystem/pkg/otel"
)

// RunStatsRepository email_daemon_status / email_daemon_category_result，实现 automail.StatsStore
type RunStatsRepository struct {
	db DB
}

func NewRunStatsRepository(db DB) *RunStatsRepository {
	return &RunStatsRepository{db: db}
}

const insertRunQuery = `
	INSERT INTO email_daemon_status (run_id, state, running, completed, reason, entities, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const insertCategoryResultQuery = `
	INSERT INTO email_daemon_category_result (run_id, ident, sent, failed, errored, unsent_because_unapproved)
	VALUES ($1, $2, $3, $4, $5, $6)`

// 同时刷新 automated_email 上的待审批数量，供管理页面展示
const updateUnapprovedQuery = `UPDATE automated_email SET unapproved_count = $2 WHERE ident = $1`

func (r *RunStatsRepository) SaveRunStats(ctx context.Context, stats *automail.RunStats) error {
	entities, err := json.Marshal(stats.Entities)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = otel.WithDBSpan(ctx, "INSERT", insertRunQuery, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, insertRunQuery, stats.RunID, stats.State.String(), stats.Running, stats.Completed,
			stats.Reason, entities, stats.StartedAt, stats.FinishedAt)
		return err
	})
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, res := range stats.Results {
		batch.Queue(insertCategoryResultQuery, stats.RunID, res.Ident, res.Sent, res.Failed, res.Errored, res.UnsentBecauseUnapproved)
		batch.Queue(updateUnapprovedQuery, res.Ident, res.UnsentBecauseUnapproved)
	}
	if batch.Len() > 0 {
		err = otel.WithDBSpan(ctx, "INSERT", insertCategoryResultQuery, func(ctx context.Context) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const lastRunQuery = `
	SELECT run_id, state, running, completed, reason, entities, started_at, finished_at
	FROM email_daemon_status
	ORDER BY finished_at DESC
	LIMIT 1`

const categoryResultsQuery = `
	SELECT ident, sent, failed, errored, unsent_because_unapproved
	FROM email_daemon_category_result
	WHERE run_id = $1`

// LoadLastRunStats 没有任何记录时返回 nil, nil
func (r *RunStatsRepository) LoadLastRunStats(ctx context.Context) (*automail.RunStats, error) {
	var stats automail.RunStats
	var state string
	var entities []byte
	err := otel.WithDBSpan(ctx, "SELECT", lastRunQuery, func(ctx context.Context) error {
		return r.db.QueryRow(ctx, lastRunQuery).Scan(&stats.RunID, &state, &stats.Running, &stats.Completed,
			&stats.Reason, &entities, &stats.StartedAt, &stats.FinishedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stats.State = automail.ParseRunState(state)
	if err := json.Unmarshal(entities, &stats.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}

	stats.Results = make(map[string]*automail.CategoryResult)
	err = otel.WithDBSpan(ctx, "SELECT", categoryResultsQuery, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, categoryResultsQuery, stats.RunID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var res automail.CategoryResult
			if err := rows.Scan(&res.Ident, &res.Sent, &res.Failed, &res.Errored, &res.UnsentBecauseUnapproved); err != nil {
				return err
			}
			stats.Results[res.Ident] = &res
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
