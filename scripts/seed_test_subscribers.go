//go:build ignore

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/zachwright/daily-drops/internal/newsletter"
	"github.com/zachwright/daily-drops/internal/privacy"
)

// Seeds N confirmed test subscribers so dispatch runs have something to
// chew on in a dev database. Usage:
//
//	DATABASE_URL=... NEWSLETTER_ENCRYPTION_KEY=... go run scripts/seed_test_subscribers.go 50
func main() {
	count := 25
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n < 1 {
			log.Fatalf("count must be a positive integer, got %q", os.Args[1])
		}
		count = n
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	rawKey := os.Getenv("NEWSLETTER_ENCRYPTION_KEY")
	if rawKey == "" {
		log.Fatal("NEWSLETTER_ENCRYPTION_KEY is required")
	}

	key, err := privacy.ParseKey(rawKey)
	if err != nil {
		log.Fatalf("parse key: %v", err)
	}
	cipher, err := privacy.NewCipher(key)
	if err != nil {
		log.Fatalf("cipher: %v", err)
	}
	secret := os.Getenv("NEWSLETTER_HASH_SECRET")
	if secret == "" {
		secret = rawKey
	}
	hasher, err := privacy.NewHasher(secret)
	if err != nil {
		log.Fatalf("hasher: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}

	ctx := context.Background()
	inserted := 0
	for i := 0; i < count; i++ {
		email := fmt.Sprintf("test-subscriber-%03d@example.com", i)
		ciphertext, err := cipher.Encrypt(email)
		if err != nil {
			log.Fatalf("encrypt %s: %v", email, err)
		}

		res, err := db.ExecContext(ctx, `
			INSERT INTO newsletter_subscribers
				(email_hash, email_ciphertext, status, source, verified_at)
			VALUES ($1, $2, $3, 'seed', NOW())
			ON CONFLICT (email_hash) DO NOTHING
		`, hasher.HashEmail(email), ciphertext, newsletter.StatusActive)
		if err != nil {
			log.Fatalf("insert %s: %v", email, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	log.Printf("Seeded %d of %d test subscribers", inserted, count)
}
