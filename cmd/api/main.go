package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/password"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/token"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/pkg/utilities"
)

func main() {
	// load .env file if present; real environment variables win
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}
	sugar.Infow("starting service-auth-go-stdlib", "store", cfg.UserStore, "production", cfg.Production())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, closer, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("user store: %v", err)
	}
	defer closer.Close()

	codec, err := token.NewCodec(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		sugar.Fatalf("token codec: %v", err)
	}

	svc := auth.NewService(users, password.NewBcrypt(cfg.BcryptCost), codec,
		utilities.NewIDGenerator(cfg.SnowflakeNode), auth.Options{RotateRefresh: cfg.RotateRefresh})
	h := auth.NewHandler(svc, sugar, auth.CookieConfig{Secure: cfg.Production(), MaxAge: svc.AccessTTL()})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.RegisterRoutes(sugar, cfg.CORSOrigin, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore builds the user store named by cfg.UserStore. The returned closer
// releases the underlying connection pool.
func openStore(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (auth.UserStore, io.Closer, error) {
	switch cfg.UserStore {
	case config.StorePostgres:
		db, err := database.Connect(database.NewConfig(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}
		if err := userrepo.Migrate(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return userrepo.NewUserRepo(db), db, nil
	case config.StoreRedis:
		client, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return userrepo.NewRedisRepo(client), client, nil
	case config.StoreMemory:
		logger.Warn("using in-memory user store; all accounts are lost on restart")
		return userrepo.NewMemoryRepo(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown user store %q", cfg.UserStore)
	}
}
