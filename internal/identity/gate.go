package identity

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"faceattend/internal/apperrors"
	"faceattend/internal/auth"
)

// Gate decides whether a caller may proceed and exposes identity and role
// to the views behind it.
type Gate struct {
	users    Store
	sessions SessionStore
	logger   *zap.Logger

	issuer     string
	signingKey string
	ttl        time.Duration
}

// NewGate wires the session gate.
func NewGate(users Store, sessions SessionStore, logger *zap.Logger, issuer, signingKey string, ttl time.Duration) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Gate{
		users:      users,
		sessions:   sessions,
		logger:     logger,
		issuer:     issuer,
		signingKey: signingKey,
		ttl:        ttl,
	}
}

// Authenticate matches roll number and password against exactly one user
// and establishes a session containing only non-secret fields.
func (g *Gate) Authenticate(ctx context.Context, rollNumber, password string) (*Session, error) {
	u, err := g.users.FindByRollNumber(ctx, rollNumber)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "look up user")
	}
	if u == nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrInvalidCredentials
	}

	token, exp, err := auth.Issue(u.ID, string(u.Role), u.RollNumber, g.issuer, g.signingKey, g.ttl)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "issue token")
	}

	// Login replaces any prior session for the user.
	if err := g.sessions.DeleteUser(ctx, u.ID); err != nil {
		g.logger.Warn("drop previous session", zap.Error(err))
	}

	sess := Session{Token: token, Status: true, User: u.Public(), ExpiresAt: exp}
	if err := g.sessions.Put(ctx, sess); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "persist session")
	}
	return &sess, nil
}

// Resolve returns the active session for a token, or nil. Absent, expired,
// or malformed session state all read as "no session" so callers fail open
// to the login flow.
func (g *Gate) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	if _, err := auth.Parse(token, g.signingKey, g.issuer); err != nil {
		return nil, nil
	}
	sess, err := g.sessions.Get(ctx, token)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "read session")
	}
	if sess == nil || !sess.Status || time.Now().After(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

// End deletes the session unconditionally. Idempotent.
func (g *Gate) End(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return g.sessions.Delete(ctx, token)
}

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Name       string `json:"name" binding:"required"`
	RollNumber string `json:"rollNumber" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// Register creates a student account with a unique roll number.
func (g *Gate) Register(ctx context.Context, in RegisterInput) (*User, error) {
	existing, err := g.users.FindByRollNumber(ctx, in.RollNumber)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal.Code, apperrors.ErrInternal.Status, "look up roll number")
	}
	if existing != nil {
		return nil, apperrors.Clone(apperrors.ErrConflict, "roll number already registered")
	}

	u, err := NewUser(in.Name, in.RollNumber, in.Email, in.Password, RoleStudent)
	if err != nil {
		return nil, err
	}
	if err := g.users.Insert(ctx, u); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStore.Code, apperrors.ErrStore.Status, "insert user")
	}
	g.logger.Info("user registered", zap.String("roll_number", u.RollNumber))
	return &u, nil
}
