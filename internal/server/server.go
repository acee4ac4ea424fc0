// Package server is the gin HTTP surface of the auth subsystem: sign-in,
// refresh, logout and the protected routes behind the access table.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/access"
	"github.com/pubble-team/pubbleauth/internal/logging"
	"github.com/pubble-team/pubbleauth/middleware"
)

// AuthService is the part of *pubbleauth.Engine the handlers use.
type AuthService interface {
	middleware.Authenticator
	SignIn(ctx context.Context, username, password string) (pubbleauth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (pubbleauth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Ping(ctx context.Context) error
	LoginCooldown() time.Duration
}

// Options configures New.
type Options struct {
	Auth   AuthService
	Table  *access.Table
	Logger logging.Logger
	// Metrics serves GET /admin/metrics when set.
	Metrics http.Handler
	// CORSOrigins lists the browser origins allowed to call the API. CORS is
	// off when empty.
	CORSOrigins []string
	Cookie      CookieOptions
	// Now is used for cookie lifetimes; defaults to time.Now.
	Now func() time.Time
}

type handler struct {
	auth   AuthService
	logger logging.Logger
	cookie CookieOptions
	now    func() time.Time
}

// New builds the router. The access table is enforced for every route, so
// handlers behind it can rely on a principal being present.
func New(opts Options) (*gin.Engine, error) {
	if opts.Auth == nil {
		return nil, errors.New("server: auth service is required")
	}
	if opts.Table == nil {
		opts.Table = access.MustTable(access.DefaultRules(), access.Authenticated)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Cookie = opts.Cookie.withDefaults()

	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery(), RequestLogger(opts.Logger))

	if len(opts.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = opts.CORSOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
		// the browser client reads the access token from this header
		corsConfig.ExposeHeaders = []string{"Authorization"}
		r.Use(cors.New(corsConfig))
	}

	r.Use(
		middleware.ClientInfo(),
		middleware.Authenticate(opts.Auth, opts.Table, opts.Logger),
		middleware.Authorize(opts.Table),
	)

	h := &handler{auth: opts.Auth, logger: opts.Logger, cookie: opts.Cookie, now: opts.Now}

	r.GET("/health", h.health)

	users := r.Group("/users")
	{
		users.POST("/signin", h.signIn)
		users.POST("/refresh", h.refresh)
		users.POST("/logout", h.logout)
	}

	r.GET("/principal", h.principal)
	r.GET("/admin", h.admin)
	if opts.Metrics != nil {
		r.GET("/admin/metrics", gin.WrapH(opts.Metrics))
	}

	return r, nil
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info(shutdownCtx, "http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
