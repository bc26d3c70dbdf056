package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assessment-sync/internal/config"
	infraredis "assessment-sync/internal/infra/redis"
	"assessment-sync/internal/infra/sqlite"
	"assessment-sync/internal/progress"
	transport "assessment-sync/internal/transport/http"
)

// listingMirror is a progress.Mirror that can enumerate subjects with pending work.
type listingMirror interface {
	progress.Mirror
	Subjects(ctx context.Context) ([]string, error)
}

type clientFlags struct {
	user  string
	token string
}

func (f *clientFlags) resolveToken(cfg config.Config) (string, error) {
	if f.token != "" {
		return f.token, nil
	}
	if t := os.Getenv("ASSESSMENT_TOKEN"); t != "" {
		return t, nil
	}
	if f.user == "" || cfg.Auth.Secret == "" {
		return "", fmt.Errorf("either --token or --user with auth.secret configured is required")
	}
	return transport.NewAuthenticator(cfg.Auth.Secret, config.Duration(cfg.Auth.TokenTTL, 12*time.Hour)).Issue(f.user)
}

func openMirror(cfg config.Config) (listingMirror, func(), error) {
	if cfg.Client.Mirror == "redis" {
		if cfg.Redis.Addr == "" {
			return nil, nil, fmt.Errorf("redis mirror selected but redis addr not configured")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return infraredis.NewMirror(client, 7*24*time.Hour), func() { client.Close() }, nil
	}

	path := cfg.Client.MirrorPath
	if path == "" {
		var err error
		if path, err = sqlite.DefaultPath(); err != nil {
			return nil, nil, err
		}
	}
	m, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return m, func() { m.Close() }, nil
}

func newHTTPClient(cfg config.Config, token string, logr *zap.Logger) *transport.Client {
	serverURL := cfg.Client.ServerURL
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	return transport.NewClient(serverURL, token, transport.WithClientLogger(logr))
}
