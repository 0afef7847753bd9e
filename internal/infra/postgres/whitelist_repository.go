package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/openctemio/scangate/pkg/domain/incident"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/whitelist"
)

// WhitelistRepository persists whitelist rules and reconciles them against stored findings.
type WhitelistRepository struct {
	db *DB
}

// NewWhitelistRepository creates a new WhitelistRepository.
func NewWhitelistRepository(db *DB) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

// findingTable describes how a rule type maps onto its finding table.
type findingTable struct {
	table    string
	incident string // incidents column pointing at the finding
	// identity is a predicate comparing the finding alias f against a name expression.
	identity func(name string) string
}

func tableFor(t whitelist.Type) (findingTable, error) {
	switch t {
	case whitelist.TypeSecret:
		return findingTable{
			table:    "secrets",
			incident: "secret_id",
			identity: func(name string) string { return "f.secret = " + name },
		}, nil
	case whitelist.TypeVulnerability:
		return findingTable{
			table:    "vulnerabilities",
			incident: "vulnerability_id",
			identity: func(name string) string {
				return "(f.vulnerability_id = " + name + " OR f.cve_id = " + name + ")"
			},
		}, nil
	}
	return findingTable{}, fmt.Errorf("%w: invalid whitelist type %q", shared.ErrValidation, t)
}

// tierExpr ranks rule w against finding f: 1 global name, 2 scoped name, 3 scoped blanket, NULL no match.
func (ft findingTable) tierExpr() string {
	scope := "(f.repository_id = ANY(w.repos) OR f.vc_id = ANY(w.vcs))"
	ident := ft.identity("w.name")
	return `CASE
		WHEN w.name IS NOT NULL AND w.global AND ` + ident + ` THEN 1
		WHEN w.name IS NOT NULL AND ` + ident + ` AND ` + scope + ` THEN 2
		WHEN w.name IS NULL AND ` + scope + ` THEN 3
	END`
}

const selectWhitelist = `
	SELECT id, type, name, repos, vcs, global, active, created_by, updated_by, created_at, updated_at
	FROM whitelists`

func scanRule(row rowScanner) (*whitelist.Rule, error) {
	var d whitelist.RuleData
	var typ string
	var name sql.NullString
	var repos, vcs []string
	if err := row.Scan(&d.ID, &typ, &name, pq.Array(&repos), pq.Array(&vcs), &d.Global, &d.Active,
		&d.CreatedBy, &d.UpdatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Type = whitelist.Type(typ)
	if name.Valid {
		n := name.String
		d.Name = &n
	}
	var err error
	if d.Repos, err = scanIDArray(repos); err != nil {
		return nil, err
	}
	if d.VCs, err = scanIDArray(vcs); err != nil {
		return nil, err
	}
	return whitelist.ReconstituteRule(d), nil
}

func ruleName(r *whitelist.Rule) sql.NullString {
	if r.Name() == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *r.Name(), Valid: true}
}

func insertRule(ctx context.Context, q querier, rule *whitelist.Rule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO whitelists (id, type, name, repos, vcs, global, active, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rule.ID(), string(rule.Type()), ruleName(rule), idArray(rule.Repos()), idArray(rule.VCs()),
		rule.IsGlobal(), rule.IsActive(), rule.CreatedBy(), rule.UpdatedBy(), rule.CreatedAt(), rule.UpdatedAt())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: whitelist rule already exists", shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create whitelist rule: %w", err)
	}
	return nil
}

func updateRule(ctx context.Context, q querier, rule *whitelist.Rule) error {
	res, err := q.ExecContext(ctx, `
		UPDATE whitelists
		SET name = $2, repos = $3, vcs = $4, global = $5, active = $6, updated_by = $7, updated_at = $8
		WHERE id = $1`,
		rule.ID(), ruleName(rule), idArray(rule.Repos()), idArray(rule.VCs()),
		rule.IsGlobal(), rule.IsActive(), rule.UpdatedBy(), rule.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to update whitelist rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return whitelist.ErrRuleNotFound
	}
	return nil
}

// GetByID returns a rule with its comments.
func (r *WhitelistRepository) GetByID(ctx context.Context, id shared.ID) (*whitelist.Rule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, selectWhitelist+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, whitelist.ErrRuleNotFound)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, author, created_at FROM whitelist_comments
		WHERE whitelist_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query whitelist comments: %w", err)
	}
	defer rows.Close()

	var comments []whitelist.Comment
	for rows.Next() {
		var c whitelist.Comment
		if err := rows.Scan(&c.ID, &c.Text, &c.Author, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	d := whitelist.RuleData{
		ID: rule.ID(), Type: rule.Type(), Name: rule.Name(), Repos: rule.Repos(), VCs: rule.VCs(),
		Global: rule.IsGlobal(), Active: rule.IsActive(), Comments: comments,
		CreatedBy: rule.CreatedBy(), UpdatedBy: rule.UpdatedBy(), CreatedAt: rule.CreatedAt(), UpdatedAt: rule.UpdatedAt(),
	}
	return whitelist.ReconstituteRule(d), nil
}

// List returns rules matching the filter and the total count before paging.
func (r *WhitelistRepository) List(ctx context.Context, f whitelist.Filter) ([]*whitelist.Rule, int64, error) {
	where := " WHERE 1=1"
	var args []any
	argIdx := 1

	if f.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, string(*f.Type))
		argIdx++
	}
	if f.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argIdx)
		args = append(args, *f.Active)
		argIdx++
	}
	if f.Global != nil {
		where += fmt.Sprintf(" AND global = $%d", argIdx)
		args = append(args, *f.Global)
		argIdx++
	}
	if f.Name != nil {
		where += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, *f.Name)
		argIdx++
	}
	if f.RepositoryID != nil {
		where += fmt.Sprintf(" AND $%d::uuid = ANY(repos)", argIdx)
		args = append(args, *f.RepositoryID)
		argIdx++
	}
	if f.VCID != nil {
		where += fmt.Sprintf(" AND $%d::uuid = ANY(vcs)", argIdx)
		args = append(args, *f.VCID)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM whitelists"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count whitelist rules: %w", err)
	}

	query := selectWhitelist + where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query whitelist rules: %w", err)
	}
	defer rows.Close()

	var out []*whitelist.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rule)
	}
	return out, total, rows.Err()
}

// AddComment stores a note on a rule.
func (r *WhitelistRepository) AddComment(ctx context.Context, ruleID shared.ID, c whitelist.Comment) error {
	return insertComment(ctx, r.db, ruleID, c)
}

func insertComment(ctx context.Context, q querier, ruleID shared.ID, c whitelist.Comment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO whitelist_comments (id, whitelist_id, text, author, created_at)
		VALUES ($1, $2, $3, $4, $5)`, c.ID, ruleID, c.Text, c.Author, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add whitelist comment: %w", err)
	}
	return nil
}

// Resolve picks the winning active rule for the subject using the same precedence as whitelist.Resolve.
func (r *WhitelistRepository) Resolve(ctx context.Context, t whitelist.Type, s whitelist.Subject) (shared.ID, error) {
	names := append([]string{s.Name}, s.Aliases...)
	query := `
		SELECT id FROM (
			SELECT id, created_at,
				CASE
					WHEN name IS NOT NULL AND global AND name = ANY($2::text[]) THEN 1
					WHEN name IS NOT NULL AND name = ANY($2::text[])
						AND ($3::uuid = ANY(repos) OR $4::uuid = ANY(vcs)) THEN 2
					WHEN name IS NULL AND ($3::uuid = ANY(repos) OR $4::uuid = ANY(vcs)) THEN 3
				END AS tier
			FROM whitelists
			WHERE active AND type = $1
		) m
		WHERE tier IS NOT NULL
		ORDER BY tier, created_at
		LIMIT 1`

	var id shared.ID
	err := r.db.QueryRowContext(ctx, query, string(t), pq.Array(names), s.RepositoryID, s.VCID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ID{}, nil
	}
	if err != nil {
		return shared.ID{}, fmt.Errorf("failed to resolve whitelist: %w", err)
	}
	return id, nil
}

// Save writes the rule (and its optional comment), then applies the rule's current
// state to every stored finding of its type, all in one transaction.
//
// Newly matching untagged findings are tagged and their incidents closed by program.
// Findings tagged by this rule that no longer match are re-resolved against the remaining
// active rules; those left untagged get their program-closed incidents reopened.
func (r *WhitelistRepository) Save(ctx context.Context, c whitelist.Change, actor string) (whitelist.ReconcileResult, error) {
	rule := c.Rule
	ft, err := tableFor(rule.Type())
	if err != nil {
		return whitelist.ReconcileResult{}, err
	}

	match := `($3::text IS NULL OR ` + ft.identity("$3") + `)
		AND ($4 OR f.repository_id = ANY($5::uuid[]) OR f.vc_id = ANY($6::uuid[]))`
	args := []any{rule.ID(), rule.IsActive(), ruleName(rule), rule.IsGlobal(), idArray(rule.Repos()), idArray(rule.VCs())}

	var res whitelist.ReconcileResult
	prScans := map[shared.ID]struct{}{}

	err = r.db.Transaction(ctx, func(tx *sql.Tx) error {
		write := updateRule
		if c.New {
			write = insertRule
		}
		if err := write(ctx, tx, rule); err != nil {
			return err
		}
		if c.Comment != nil {
			if err := insertComment(ctx, tx, rule.ID(), *c.Comment); err != nil {
				return err
			}
		}

		tagged, err := collectChanged(ctx, tx, true, `
			UPDATE `+ft.table+` f
			SET whitelisted = TRUE, whitelist_id = $1, updated_at = NOW()
			WHERE $2 AND NOT f.whitelisted AND `+match+`
			RETURNING f.id, TRUE, f.pr_scan_id`, prScans, args...)
		if err != nil {
			return fmt.Errorf("failed to tag findings: %w", err)
		}
		res.Tagged = len(tagged)

		released, err := collectChanged(ctx, tx, false, `
			WITH next AS (
				SELECT f.id, best.id AS rule_id
				FROM `+ft.table+` f
				LEFT JOIN LATERAL (
					SELECT c.id FROM (
						SELECT w.id, w.created_at, `+ft.tierExpr()+` AS tier
						FROM whitelists w
						WHERE w.active AND w.type = $7 AND w.id <> $1
					) c
					WHERE c.tier IS NOT NULL
					ORDER BY c.tier, c.created_at
					LIMIT 1
				) best ON TRUE
				WHERE f.whitelist_id = $1 AND NOT ($2 AND `+match+`)
			)
			UPDATE `+ft.table+` t
			SET whitelisted = next.rule_id IS NOT NULL, whitelist_id = next.rule_id, updated_at = NOW()
			FROM next
			WHERE t.id = next.id
			RETURNING t.id, t.whitelisted, t.pr_scan_id`, prScans, append(args, string(rule.Type()))...)
		if err != nil {
			return fmt.Errorf("failed to release findings: %w", err)
		}
		res.Untagged = len(released)

		if res.ClosedIncidents, err = closeIncidents(ctx, tx, ft, tagged); err != nil {
			return err
		}
		if res.ReopenedIncidents, err = reopenIncidents(ctx, tx, ft, released); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return whitelist.ReconcileResult{}, err
	}

	for id := range prScans {
		res.AffectedPRScans = append(res.AffectedPRScans, id)
	}
	return res, nil
}

// collectChanged runs an UPDATE returning (id, whitelisted, pr_scan_id) and keeps the ids that
// ended up in the wanted state. Released rows re-tagged by another rule are skipped.
func collectChanged(ctx context.Context, tx *sql.Tx, want bool, query string, prScans map[shared.ID]struct{}, args ...any) ([]shared.ID, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []shared.ID
	for rows.Next() {
		var id, prScanID shared.ID
		var whitelisted bool
		if err := rows.Scan(&id, &whitelisted, &prScanID); err != nil {
			return nil, err
		}
		if whitelisted != want {
			continue
		}
		ids = append(ids, id)
		if !prScanID.IsZero() {
			prScans[prScanID] = struct{}{}
		}
	}
	return ids, rows.Err()
}

func closeIncidents(ctx context.Context, tx *sql.Tx, ft findingTable, findings []shared.ID) ([]shared.ID, error) {
	if len(findings) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		WITH target AS (
			SELECT id, status FROM incidents
			WHERE `+ft.incident+` = ANY($1::uuid[]) AND status <> 'closed'
			FOR UPDATE
		)
		UPDATE incidents i
		SET status = 'closed', closed_by = 'program', updated_at = NOW()
		FROM target
		WHERE i.id = target.id
		RETURNING i.id, target.status`, idArray(findings))
	if err != nil {
		return nil, fmt.Errorf("failed to close incidents: %w", err)
	}

	var activities []*incident.Activity
	var ids []shared.ID
	for rows.Next() {
		var id shared.ID
		var old string
		if err := rows.Scan(&id, &old); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		activities = append(activities, incident.ProgramClosedActivity(id, incident.Status(old)))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, a := range activities {
		if err := insertActivity(ctx, tx, a); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func reopenIncidents(ctx context.Context, tx *sql.Tx, ft findingTable, findings []shared.ID) ([]shared.ID, error) {
	if len(findings) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		UPDATE incidents
		SET status = 'open', closed_by = NULL, updated_at = NOW()
		WHERE `+ft.incident+` = ANY($1::uuid[]) AND status = 'closed' AND closed_by = 'program'
		RETURNING id`, idArray(findings))
	if err != nil {
		return nil, fmt.Errorf("failed to reopen incidents: %w", err)
	}

	var ids []shared.ID
	for rows.Next() {
		var id shared.ID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if err := insertActivity(ctx, tx, incident.ProgramReopenedActivity(id)); err != nil {
			return nil, err
		}
	}
	return ids, nil
}
