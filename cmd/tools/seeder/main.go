// Command seeder loads coupon fixtures from a YAML file into Postgres.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/coupon-engine/internal/coupon"
	"github.com/noah-isme/coupon-engine/internal/store/postgres"
)

type fixture struct {
	Code           string         `yaml:"code"`
	Type           string         `yaml:"type"`
	Details        map[string]any `yaml:"details"`
	Tags           []string       `yaml:"tags"`
	ExpirationDate *time.Time     `yaml:"expiration_date"`
}

func main() {
	file := flag.String("file", "coupons.yaml", "YAML file holding the coupon fixtures")
	migrateFirst := flag.Bool("migrate", true, "apply schema migrations before seeding")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open fixtures: %v", err)
	}
	defer f.Close()
	coupons, err := loadFixtures(f)
	if err != nil {
		log.Fatalf("load fixtures: %v", err)
	}

	if *migrateFirst {
		if err := postgres.Migrate(dbURL); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	created, skipped, err := seed(ctx, postgres.New(pool), coupons)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("Seeding completed: %d created, %d already present", created, skipped)
}

// loadFixtures decodes and validates every coupon in r.
func loadFixtures(r io.Reader) ([]coupon.Coupon, error) {
	var fixtures []fixture
	if err := yaml.NewDecoder(r).Decode(&fixtures); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out := make([]coupon.Coupon, 0, len(fixtures))
	for i, fx := range fixtures {
		kind, err := coupon.ParseKind(fx.Type)
		if err != nil {
			return nil, fmt.Errorf("fixture %d (%s): %w", i, fx.Code, err)
		}
		var raw json.RawMessage
		if fx.Details != nil {
			if raw, err = json.Marshal(fx.Details); err != nil {
				return nil, fmt.Errorf("fixture %d (%s): encode details: %w", i, fx.Code, err)
			}
		}
		rule, err := coupon.DecodeRule(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("fixture %d (%s): %w", i, fx.Code, err)
		}
		c := coupon.Coupon{
			Code:      coupon.NormalizeCode(fx.Code),
			Rule:      rule,
			Tags:      fx.Tags,
			ExpiresAt: fx.ExpirationDate,
		}
		if err := coupon.ValidateCoupon(c); err != nil {
			return nil, fmt.Errorf("fixture %d (%s): %w", i, fx.Code, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// seed creates every coupon whose code is not registered yet.
func seed(ctx context.Context, repo coupon.Repository, coupons []coupon.Coupon) (created, skipped int, err error) {
	for i := range coupons {
		c := coupons[i]
		switch err := repo.Create(ctx, &c); {
		case err == nil:
			created++
			log.Printf("created %s (%s) as id %d", c.Code, c.Kind(), c.ID)
		case errors.Is(err, coupon.ErrCodeTaken):
			skipped++
		default:
			return created, skipped, fmt.Errorf("create %s: %w", c.Code, err)
		}
	}
	return created, skipped, nil
}
