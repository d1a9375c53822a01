// Command seed provisions the SUPER_ADMIN account. The role is never
// reachable through the API, so the bootstrap happens out of band and is
// idempotent: re-running against an existing SUPER_ADMIN is a no-op.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"crimewatch.org/internal/identity"
	"crimewatch.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn      = flag.String("dsn", os.Getenv("CRIMEWATCH_PG_DSN"), "PostgreSQL DSN")
		email    = flag.String("email", os.Getenv("CRIMEWATCH_SUPERADMIN_EMAIL"), "super admin email")
		password = flag.String("password", os.Getenv("CRIMEWATCH_SUPERADMIN_PASSWORD"), "super admin password")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CRIMEWATCH_PG_DSN")
	}
	if *email == "" || *password == "" {
		log.Fatal("missing credentials: provide -email/-password or CRIMEWATCH_SUPERADMIN_EMAIL/CRIMEWATCH_SUPERADMIN_PASSWORD")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := identity.NewService(store, store)
	u, changed, err := svc.EnsureSuperAdmin(ctx, *email, *password)
	if err != nil {
		log.Fatalf("seed super admin: %v", err)
	}
	if changed {
		log.Printf("super admin ready: %s (%s)", u.Email, u.ID)
	} else {
		log.Printf("super admin already present: %s (%s)", u.Email, u.ID)
	}
}
