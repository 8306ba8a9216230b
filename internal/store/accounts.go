package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teresa-solution/calendar-sync-service/internal/crypto"
	"github.com/teresa-solution/calendar-sync-service/internal/model"
)

// AccountRepository handles the remote_accounts table. Tokens pass through
// the cipher on the way in and out; only ciphertext and nonces touch the
// database.
type AccountRepository struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

func NewAccountRepository(db *sql.DB, cipher *crypto.Cipher) *AccountRepository {
	return &AccountRepository{db: db, cipher: cipher}
}

const accountColumns = `id, org_id, user_id, provider,
       encrypted_access_token, access_token_nonce, encrypted_refresh_token, refresh_token_nonce,
       expires_at, scopes, is_enabled, write_calendar_id, read_calendar_ids, calendar_rules,
       sync_status, sync_error, last_sync_at, created_at, updated_at`

func (r *AccountRepository) scanAccount(row interface{ Scan(...interface{}) error }) (*model.RemoteAccount, error) {
	a := &model.RemoteAccount{}
	var scopes, readIDs, rules []byte
	err := row.Scan(&a.ID, &a.OrgID, &a.UserID, &a.Provider,
		&a.EncryptedAccessToken, &a.AccessTokenNonce, &a.EncryptedRefreshToken, &a.RefreshTokenNonce,
		&a.ExpiresAt, &scopes, &a.IsEnabled, &a.WriteCalendarID, &readIDs, &rules,
		&a.SyncStatus, &a.SyncError, &a.LastSyncAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopes, &a.Scopes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(readIDs, &a.ReadCalendarIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rules, &a.CalendarRules); err != nil {
		return nil, err
	}

	if len(a.EncryptedAccessToken) > 0 {
		a.AccessToken, err = r.cipher.Decrypt(a.EncryptedAccessToken, a.AccessTokenNonce)
		if err != nil {
			return nil, err
		}
	}
	if len(a.EncryptedRefreshToken) > 0 {
		a.RefreshToken, err = r.cipher.Decrypt(a.EncryptedRefreshToken, a.RefreshTokenNonce)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (r *AccountRepository) encryptTokens(a *model.RemoteAccount) error {
	var err error
	if a.AccessToken != "" {
		a.EncryptedAccessToken, a.AccessTokenNonce, err = r.cipher.Encrypt(a.AccessToken)
		if err != nil {
			return err
		}
	}
	if a.RefreshToken != "" {
		a.EncryptedRefreshToken, a.RefreshTokenNonce, err = r.cipher.Encrypt(a.RefreshToken)
		if err != nil {
			return err
		}
	}
	return nil
}

// Upsert creates or replaces the account for (org, user). Called by the OAuth
// callback flow.
func (r *AccountRepository) Upsert(ctx context.Context, a *model.RemoteAccount) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if err := r.encryptTokens(a); err != nil {
		return err
	}

	scopes, err := json.Marshal(a.Scopes)
	if err != nil {
		return err
	}
	readIDs, err := json.Marshal(a.ReadCalendarIDs)
	if err != nil {
		return err
	}
	rules, err := json.Marshal(a.CalendarRules)
	if err != nil {
		return err
	}

	query := `INSERT INTO remote_accounts (` + accountColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
              ON CONFLICT (org_id, user_id) DO UPDATE
              SET provider = EXCLUDED.provider,
                  encrypted_access_token = EXCLUDED.encrypted_access_token,
                  access_token_nonce = EXCLUDED.access_token_nonce,
                  encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
                  refresh_token_nonce = EXCLUDED.refresh_token_nonce,
                  expires_at = EXCLUDED.expires_at,
                  scopes = EXCLUDED.scopes,
                  is_enabled = EXCLUDED.is_enabled,
                  write_calendar_id = EXCLUDED.write_calendar_id,
                  read_calendar_ids = EXCLUDED.read_calendar_ids,
                  calendar_rules = EXCLUDED.calendar_rules,
                  sync_status = EXCLUDED.sync_status,
                  sync_error = EXCLUDED.sync_error,
                  updated_at = EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, query, a.ID, a.OrgID, a.UserID, a.Provider,
		a.EncryptedAccessToken, a.AccessTokenNonce, a.EncryptedRefreshToken, a.RefreshTokenNonce,
		a.ExpiresAt, scopes, a.IsEnabled, a.WriteCalendarID, readIDs, rules,
		a.SyncStatus, a.SyncError, a.LastSyncAt, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetByOrgUser retrieves the account for (org, user), nil when absent.
func (r *AccountRepository) GetByOrgUser(ctx context.Context, orgID, userID uuid.UUID) (*model.RemoteAccount, error) {
	a, err := r.scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM remote_accounts WHERE org_id = $1 AND user_id = $2`, orgID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListEnabled returns enabled accounts ordered by staleness, up to limit.
func (r *AccountRepository) ListEnabled(ctx context.Context, limit int) ([]model.RemoteAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM remote_accounts
         WHERE is_enabled ORDER BY last_sync_at ASC NULLS FIRST LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RemoteAccount
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateTokens replaces the credential set after a refresh. Read-then-write;
// concurrent refreshes race harmlessly because each writes a valid
// supersede-able token set.
func (r *AccountRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	a := &model.RemoteAccount{AccessToken: accessToken, RefreshToken: refreshToken}
	if err := r.encryptTokens(a); err != nil {
		return err
	}
	query := `UPDATE remote_accounts
              SET encrypted_access_token = $2, access_token_nonce = $3,
                  encrypted_refresh_token = COALESCE(NULLIF($4, ''::bytea), encrypted_refresh_token),
                  refresh_token_nonce = COALESCE(NULLIF($5, ''::bytea), refresh_token_nonce),
                  expires_at = $6, updated_at = $7
              WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, a.EncryptedAccessToken, a.AccessTokenNonce,
		a.EncryptedRefreshToken, a.RefreshTokenNonce, expiresAt, time.Now().UTC())
	return err
}

// SetSyncStatus records the outcome of the account's last sync.
func (r *AccountRepository) SetSyncStatus(ctx context.Context, id uuid.UUID, status, syncError string, lastSyncAt *time.Time) error {
	query := `UPDATE remote_accounts
              SET sync_status = $2, sync_error = $3,
                  last_sync_at = COALESCE($4, last_sync_at), updated_at = $5
              WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status, syncError, lastSyncAt, time.Now().UTC())
	return err
}

// Disable turns off automatic sync after a credential failure, keeping the
// row so reconnection can restore history.
func (r *AccountRepository) Disable(ctx context.Context, id uuid.UUID, syncError string) error {
	query := `UPDATE remote_accounts SET is_enabled = false, sync_status = 'ERROR', sync_error = $2, updated_at = $3
              WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, syncError, time.Now().UTC())
	return err
}

// Disconnect zeroes credentials and disables the account but preserves the
// row and its history.
func (r *AccountRepository) Disconnect(ctx context.Context, orgID, userID uuid.UUID) error {
	query := `UPDATE remote_accounts
              SET encrypted_access_token = ''::bytea, access_token_nonce = ''::bytea,
                  encrypted_refresh_token = ''::bytea, refresh_token_nonce = ''::bytea,
                  is_enabled = false, sync_status = 'DISCONNECTED', sync_error = '', updated_at = $3
              WHERE org_id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, orgID, userID, time.Now().UTC())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
