package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/openctemio/scangate/pkg/crypto"
	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
	"github.com/openctemio/scangate/pkg/domain/vcs"
)

// VCSRepository reads version-control connections and webhook configs.
// API tokens and webhook secrets may be stored sealed; they are opened on read.
type VCSRepository struct {
	db  *DB
	enc crypto.Encryptor
}

// NewVCSRepository creates a new VCSRepository. A nil encryptor reads credentials as stored.
func NewVCSRepository(db *DB, enc crypto.Encryptor) *VCSRepository {
	if enc == nil {
		enc = crypto.NoOpEncryptor{}
	}
	return &VCSRepository{db: db, enc: enc}
}

const selectVCS = `
	SELECT id, name, provider, base_url, username, token, active, block_message, created_at, updated_at
	FROM vcs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVCS(row rowScanner) (*vcs.VersionControl, error) {
	v := &vcs.VersionControl{}
	var provider string
	if err := row.Scan(&v.ID, &v.Name, &provider, &v.BaseURL, &v.Username, &v.Token,
		&v.Active, &v.BlockMessage, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Provider = event.Provider(provider)
	return v, nil
}

// GetByID returns a VC by id.
func (r *VCSRepository) GetByID(ctx context.Context, id shared.ID) (*vcs.VersionControl, error) {
	v, err := scanVCS(r.db.QueryRowContext(ctx, selectVCS+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, vcs.ErrNotFound)
	}
	if v.Token, err = r.enc.DecryptString(v.Token); err != nil {
		return nil, fmt.Errorf("failed to open token of vc %s: %w", v.ID, err)
	}
	return v, nil
}

// ListActive returns all active VCs.
func (r *VCSRepository) ListActive(ctx context.Context) ([]*vcs.VersionControl, error) {
	rows, err := r.db.QueryContext(ctx, selectVCS+` WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vcs: %w", err)
	}
	defer rows.Close()

	var out []*vcs.VersionControl
	for rows.Next() {
		v, err := scanVCS(rows)
		if err != nil {
			return nil, err
		}
		if v.Token, err = r.enc.DecryptString(v.Token); err != nil {
			return nil, fmt.Errorf("failed to open token of vc %s: %w", v.ID, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetWebhookConfig returns the webhook config of a VC.
func (r *VCSRepository) GetWebhookConfig(ctx context.Context, vcID shared.ID) (*vcs.WebhookConfig, error) {
	query := `
		SELECT id, vc_id, secret, git_actions, scan_mode, block_on_secrets, block_on_vulnerabilities,
		       slack_alerts_enabled, active, created_at, updated_at
		FROM webhook_configs
		WHERE vc_id = $1`

	c := &vcs.WebhookConfig{}
	var actions []string
	var mode string
	err := r.db.QueryRowContext(ctx, query, vcID).Scan(
		&c.ID, &c.VCID, &c.Secret, pq.Array(&actions), &mode, &c.BlockOnSecrets, &c.BlockOnVulnerabilities,
		&c.SlackAlertsEnabled, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, vcs.ErrNotFound)
	}
	if c.Secret, err = r.enc.DecryptString(c.Secret); err != nil {
		return nil, fmt.Errorf("failed to open webhook secret of vc %s: %w", vcID, err)
	}
	c.ScanMode = vcs.ScanMode(mode)
	for _, a := range actions {
		c.GitActions = append(c.GitActions, event.Action(a))
	}
	return c, nil
}

// SealCredentials rewrites plaintext VC tokens and webhook secrets in sealed form.
// With dryRun set it only counts them. It returns the number of tokens and secrets affected.
func (r *VCSRepository) SealCredentials(ctx context.Context, dryRun bool) (tokens, secrets int, err error) {
	tokens, err = r.sealColumn(ctx, "vcs", "token", dryRun)
	if err != nil {
		return 0, 0, err
	}
	secrets, err = r.sealColumn(ctx, "webhook_configs", "secret", dryRun)
	if err != nil {
		return tokens, 0, err
	}
	return tokens, secrets, nil
}

// sealColumn only ever sees the two fixed table/column pairs above.
func (r *VCSRepository) sealColumn(ctx context.Context, table, column string, dryRun bool) (int, error) {
	if _, ok := r.enc.(crypto.NoOpEncryptor); ok {
		return 0, fmt.Errorf("cannot seal %s.%s: no encryption key configured", table, column)
	}

	count := 0
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		//nolint:gosec // table and column are constants
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(
			`SELECT id, %[2]s FROM %[1]s WHERE %[2]s <> '' AND %[2]s NOT LIKE $1 FOR UPDATE`, table, column),
			crypto.SealedPrefix+"%")
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", table, err)
		}
		plain := map[shared.ID]string{}
		for rows.Next() {
			var id shared.ID
			var value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return err
			}
			plain[id] = value
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		count = len(plain)
		if dryRun {
			return nil
		}

		//nolint:gosec // table and column are constants
		update := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, table, column)
		for id, value := range plain {
			sealed, err := r.enc.EncryptString(value)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, update, sealed, id); err != nil {
				return fmt.Errorf("failed to update %s %s: %w", table, id, err)
			}
		}
		return nil
	})
	return count, err
}
