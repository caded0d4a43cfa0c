//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/audit"
	"github.com/hugh/quanty/internal/auth"
	"github.com/hugh/quanty/internal/database"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/isolation"
	"github.com/hugh/quanty/internal/tables"
	"github.com/hugh/quanty/internal/workspace"
	"github.com/hugh/quanty/pkg/config"
	"github.com/hugh/quanty/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)
	ctx := context.Background()

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	directory := workspace.NewDirectory(db, audit.NewRecorder(db, logger), nil, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry(), cfg.JWT.Issuer)
	authService := auth.NewService(db, jwtService, directory)

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	name := os.Getenv("ADMIN_NAME")

	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		password = "Admin-passw0rd"
	}
	if name == "" {
		name = "Admin"
	}

	resp, err := authService.Register(ctx, auth.RegisterInput{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		if errors.Is(err, apperr.Conflict("email_taken")) {
			fmt.Printf("Admin user already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create admin user: %v", err)
	}

	ws, err := directory.CreateTeamWorkspace(ctx, resp.User.ID, "Demo", "Sample data for trying out dashboards")
	if err != nil {
		log.Fatalf("failed to create demo workspace: %v", err)
	}

	catalog, err := isolation.NewCatalog(db, cfg.Catalog.CacheSize, nil)
	if err != nil {
		log.Fatalf("failed to create catalog: %v", err)
	}
	filter := isolation.NewFilter(db, catalog, nil, logger)
	builder := tables.NewBuilder(db, filter, logger)
	scope := isolation.WorkspaceScope(ws.ID)

	_, err = builder.Create(ctx, scope, "demo_sales", "Sales", []tables.Column{
		{Name: "region", Type: models.ColumnTypeText},
		{Name: "amount", Type: models.ColumnTypeNumber},
		{Name: "closed_on", Type: models.ColumnTypeDate, Nullable: true},
	})
	if err != nil {
		log.Fatalf("failed to create demo table: %v", err)
	}

	rows := []map[string]any{
		{"region": "north", "amount": 1200, "closed_on": "2026-01-14"},
		{"region": "south", "amount": 860, "closed_on": "2026-02-03"},
		{"region": "north", "amount": 430, "closed_on": nil},
	}
	for _, row := range rows {
		if _, err := filter.InsertRow(ctx, scope, "demo_sales", row); err != nil {
			log.Fatalf("failed to insert demo row: %v", err)
		}
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", resp.User.Email)
	fmt.Printf("Workspace: %s (%s)\n", ws.Name, ws.ID)
	fmt.Printf("Token: %s\n", resp.Token)
}
