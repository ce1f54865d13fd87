// Command seed loads demo users and items into the configured database.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/stockroom-app/stockroom/internal/auth"
	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/platform/db"
	"github.com/stockroom-app/stockroom/internal/shared"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type seedConfig struct {
	PGDSN      string `envconfig:"PG_DSN" required:"true"`
	BcryptCost int    `envconfig:"BCRYPT_COST" default:"10"`
	UploadDir  string `envconfig:"UPLOAD_DIR" default:"./uploads"`
}

type fixtures struct {
	Users []auth.RegisterInput `yaml:"users"`
	Items []fixtureItem        `yaml:"items"`
}

type fixtureItem struct {
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Quantity int    `yaml:"quantity"`
}

func main() {
	file := flag.String("file", "", "YAML fixtures to load instead of the built-in demo set")
	flag.Parse()

	var cfg seedConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	raw := defaultFixtures
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("read fixtures: %v", err)
		}
		raw = data
	}
	data, err := parseFixtures(raw)
	if err != nil {
		log.Fatalf("parse fixtures: %v", err)
	}

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	images, err := items.NewDiskStore(cfg.UploadDir, "/uploads/")
	if err != nil {
		log.Fatalf("upload dir: %v", err)
	}
	authService := auth.NewService(auth.NewRepository(pool), auth.NewHasher(cfg.BcryptCost), nil)
	itemService := items.NewService(items.NewRepository(pool), images, nil, nil, nil)

	fmt.Println("→ Seeding users...")
	created, err := seedUsers(ctx, authService, data.Users)
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Printf("  %d created, %d already present\n", created, len(data.Users)-created)

	fmt.Println("→ Seeding items...")
	n, err := seedItems(ctx, itemService, data.Items)
	if err != nil {
		log.Fatalf("seed items: %v", err)
	}
	fmt.Printf("  %d created\n", n)
}

func parseFixtures(raw []byte) (fixtures, error) {
	var f fixtures
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, err
	}
	return f, nil
}

// seedUsers registers each user, skipping identities that already exist.
func seedUsers(ctx context.Context, svc *auth.Service, users []auth.RegisterInput) (int, error) {
	created := 0
	for _, u := range users {
		if _, err := svc.Register(ctx, u); err != nil {
			if errors.Is(err, shared.ErrDuplicateIdentity) {
				continue
			}
			return created, fmt.Errorf("%s: %w", u.Email, err)
		}
		created++
	}
	return created, nil
}

// seedItems fills an empty catalogue; a catalogue with items is left alone.
func seedItems(ctx context.Context, svc *items.Service, list []fixtureItem) (int, error) {
	existing, err := svc.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, it := range list {
		in := items.Input{Name: it.Name, Price: it.Price, Quantity: it.Quantity}
		if _, err := svc.Create(ctx, in, nil); err != nil {
			return i, fmt.Errorf("%s: %w", it.Name, err)
		}
	}
	return len(list), nil
}
