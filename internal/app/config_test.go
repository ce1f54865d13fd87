package app

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("JWT_SECRET", "jwt")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredSecrets(t)
	// The testing package presets a cheap cost; t.Setenv restores it.
	t.Setenv("BCRYPT_COST", "")
	require.NoError(t, os.Unsetenv("BCRYPT_COST"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, "disk", cfg.ImageStore)
	assert.Equal(t, "./uploads", cfg.UploadDir)
	assert.Empty(t, cfg.PGDSN)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	for _, missing := range []string{"SESSION_SECRET", "CSRF_SECRET", "JWT_SECRET"} {
		t.Run(missing, func(t *testing.T) {
			setRequiredSecrets(t)
			t.Setenv(missing, "")
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidateImageStore(t *testing.T) {
	cfg := Config{SessionSecret: "s", CSRFSecret: "c", JWTSecret: "j", ImageStore: "s3"}
	assert.Error(t, cfg.Validate())

	cfg.S3Bucket = "items"
	assert.NoError(t, cfg.Validate())

	cfg.ImageStore = "ftp"
	assert.Error(t, cfg.Validate())
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Info("hello", "user", "alice")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"user":"alice"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "production"}, &buf).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestCSRFExemptPaths(t *testing.T) {
	assert.True(t, csrfExempt("/api/items"))
	assert.True(t, csrfExempt("/auth/login"))
	assert.False(t, csrfExempt("/login"))
	assert.False(t, csrfExempt("/add"))
	assert.False(t, csrfExempt("/api"))
}

func TestRedisOptions(t *testing.T) {
	_, ok := (&Config{}).RedisOptions()
	assert.False(t, ok)

	opts, ok := (&Config{RedisAddr: "redis:6379", RedisDB: 1}).RedisOptions()
	require.True(t, ok)
	assert.Equal(t, "redis:6379", opts.Addr)
	assert.Equal(t, 1, opts.DB)
}

func TestNewImageStoreDisk(t *testing.T) {
	dir := t.TempDir()
	store, uploadDir, err := NewImageStore(context.Background(), &Config{ImageStore: "disk", UploadDir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, uploadDir)
	assert.Equal(t, "/uploads/image_1_a.png", store.URL("image_1_a.png"))
}
