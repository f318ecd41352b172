package repository

import (
	"context"

	"ubersystem/internal/model"
	"ubersystem/pkg/otel"
)

// IndieGameSource 已提交的独立游戏
type IndieGameSource struct {
	db DB
}

func NewIndieGameSource(db DB) *IndieGameSource {
	return &IndieGameSource{db: db}
}

func (s *IndieGameSource) EntityType() string { return model.TypeIndieGame }

const indieGamesQuery = `
	SELECT g.id::text, g.title, g.studio, g.contact_email, g.status, g.submitted
	FROM indie_game g
	WHERE g.submitted
	ORDER BY g.id`

func (s *IndieGameSource) Load(ctx context.Context) ([]model.Entity, error) {
	var out []model.Entity
	err := otel.WithDBSpan(ctx, "SELECT", indieGamesQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, indieGamesQuery)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var g model.IndieGame
			if err := rows.Scan(&g.ID, &g.Title, &g.Studio, &g.ContactEmail, &g.Status, &g.Submitted); err != nil {
				return err
			}
			out = append(out, &g)
		}
		return rows.Err()
	})
	return out, err
}

// PanelApplicationSource 所有讲座申请
type PanelApplicationSource struct {
	db DB
}

func NewPanelApplicationSource(db DB) *PanelApplicationSource {
	return &PanelApplicationSource{db: db}
}

func (s *PanelApplicationSource) EntityType() string { return model.TypePanelApplication }

const panelAppsQuery = `
	SELECT p.id::text, p.name, p.submitter_email, p.status, p.confirmed, p.length
	FROM panel_application p
	ORDER BY p.id`

func (s *PanelApplicationSource) Load(ctx context.Context) ([]model.Entity, error) {
	var out []model.Entity
	err := otel.WithDBSpan(ctx, "SELECT", panelAppsQuery, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, panelAppsQuery)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p model.PanelApplication
			if err := rows.Scan(&p.ID, &p.Name, &p.SubmitterEmail, &p.Status, &p.Confirmed, &p.Length); err != nil {
				return err
			}
			out = append(out, &p)
		}
		return rows.Err()
	})
	return out, err
}
