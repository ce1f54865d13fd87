package app

import (
	"context"

	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/platform/cache"
)

// uploadsPrefix is where the router serves DiskStore images.
const uploadsPrefix = "/uploads/"

// NewImageStore builds the store selected by IMAGE_STORE. uploadDir is empty
// unless images live on local disk and must be served by the router.
func NewImageStore(ctx context.Context, cfg *Config) (store items.ImageStore, uploadDir string, err error) {
	if cfg.ImageStore == "s3" {
		s3Store, err := items.NewS3Store(ctx, items.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, "", err
		}
		return s3Store, "", nil
	}
	disk, err := items.NewDiskStore(cfg.UploadDir, uploadsPrefix)
	if err != nil {
		return nil, "", err
	}
	return disk, disk.Dir(), nil
}

// RedisOptions returns the Redis settings, or false when Redis is disabled.
func (c *Config) RedisOptions() (cache.Options, bool) {
	if c.RedisAddr == "" {
		return cache.Options{}, false
	}
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}, true
}
