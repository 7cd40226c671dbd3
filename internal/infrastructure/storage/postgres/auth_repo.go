package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"tradestream/internal/application/port"
	"tradestream/internal/domain/model"
)

// TokenRepo 校验认证服务签发的 session token
// token 以 sha256 hex 存储
type TokenRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewTokenRepo(db *sql.DB) *TokenRepo {
	return &TokenRepo{db: db, now: time.Now}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *TokenRepo) Verify(ctx context.Context, token string) (*model.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, model.ErrInvalidToken
	}
	var (
		id   model.Identity
		role string
	)
	err := r.db.QueryRowContext(ctx, `SELECT u.id, u.role FROM auth_tokens t JOIN users u ON u.id = t.user_id
WHERE t.token_hash = $1 AND t.revoked = FALSE AND t.expires_at > $2`, HashToken(token), r.now()).
		Scan(&id.UserID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	id.Role = model.Role(role)
	switch id.Role {
	case model.RoleAdmin, model.RoleSuperAdmin:
	default:
		id.Role = model.RoleUser
	}
	return &id, nil
}

type PermissionRepo struct {
	db *sql.DB
}

func NewPermissionRepo(db *sql.DB) *PermissionRepo {
	return &PermissionRepo{db: db}
}

func (r *PermissionRepo) HasPermission(ctx context.Context, userID int64, perm model.Permission) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_permissions WHERE user_id = $1 AND permission = $2)`,
		userID, string(perm)).Scan(&ok)
	return ok, err
}

var (
	_ port.TokenVerifier     = (*TokenRepo)(nil)
	_ port.PermissionChecker = (*PermissionRepo)(nil)
)
