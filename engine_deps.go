package pubbleauth

import (
	"context"

	"github.com/pubble-team/pubbleauth/internal/flows"
	"github.com/pubble-team/pubbleauth/refresh"
)

func (e *Engine) buildFlowDeps() flows.Deps {
	issue := flows.IssueDeps{
		Now:                e.now,
		AccessTTL:          e.config.JWT.AccessTTL,
		RefreshTTL:         e.config.JWT.RefreshTTL,
		NewRefreshID:       refresh.NewID,
		NewRefreshSecret:   refresh.NewSecret,
		EncodeRefreshToken: refresh.EncodeToken,
		IssueAccessToken:   e.jwtManager.Issue,
		Store:              e.refreshStore,
	}

	signIn := flows.SignInDeps{
		ClientIPFromContext: clientIPFromContext,
		NormalizeUsername:   NormalizeUsername,
		GetUserByUsername:   e.lookupUser,
		UserNotFound:        ErrUserNotFound,
		DefaultRole:         RoleUser,
		VerifyPassword:      e.hasher.Verify,
		DummyHash:           e.dummyHash,
		Issue: func(ctx context.Context, subject, role string) flows.IssueResult {
			return flows.RunIssue(ctx, subject, role, issue)
		},
		Warn: e.logger.Warn,
	}
	if e.loginLimiter != nil {
		signIn.Limiter = e.loginLimiter
	}
	if updater, ok := e.userProvider.(PasswordHashUpdater); ok && e.config.Password.UpgradeOnLogin {
		signIn.UpgradePassword = func(ctx context.Context, user flows.SignInUser, password string) {
			e.upgradePassword(ctx, updater, user, password)
		}
	}

	return flows.Deps{
		SignIn: signIn,
		Issue:  issue,
		Refresh: flows.RefreshDeps{
			Now:                 e.now,
			AccessTTL:           e.config.JWT.AccessTTL,
			RefreshTTL:          e.config.JWT.RefreshTTL,
			DecodeRefreshToken:  refresh.DecodeToken,
			NewRefreshID:        refresh.NewID,
			NewRefreshSecret:    refresh.NewSecret,
			EncodeRefreshToken:  refresh.EncodeToken,
			IssueAccessToken:    e.jwtManager.Issue,
			RevokeFamilyOnReuse: e.config.Refresh.RevokeFamilyOnReuse,
			Store:               e.refreshStore,
			Warn:                e.logger.Warn,
		},
		Authenticate: flows.AuthenticateDeps{
			Verify: e.jwtManager.Verify,
		},
		Logout: flows.LogoutDeps{
			DecodeRefreshToken: refresh.DecodeToken,
			Store:              e.refreshStore,
		},
	}
}

func (e *Engine) lookupUser(ctx context.Context, username string) (flows.SignInUser, error) {
	u, err := e.userProvider.GetUserByUsername(ctx, username)
	if err != nil {
		return flows.SignInUser{}, err
	}
	return flows.SignInUser{
		UserID:       u.UserID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
	}, nil
}

// upgradePassword rehashes with the current parameters. Failures are logged
// and never fail the sign-in.
func (e *Engine) upgradePassword(ctx context.Context, updater PasswordHashUpdater, user flows.SignInUser, password string) {
	stale, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		e.logger.Warn(ctx, "rehashing password", "user_id", user.UserID, "error", err)
		return
	}
	if err := updater.UpdatePasswordHash(ctx, user.UserID, hash); err != nil {
		e.logger.Warn(ctx, "storing upgraded password hash", "user_id", user.UserID, "error", err)
		return
	}
	e.logger.Info(ctx, "password hash upgraded", "user_id", user.UserID, "algorithm", string(e.hasher.Algorithm()))
}
