package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("EXTERNAL_API_BASE_URL", "http://erp.local:8080")
	t.Setenv("EXTERNAL_API_USER", "svc")
	t.Setenv("EXTERNAL_API_PASSWORD", "secret")
	t.Setenv("DATABASE_HOST", "db.local")
	t.Setenv("DATABASE_PORT", "3307")
	t.Setenv("DATABASE_NAME", "dbs")
	t.Setenv("DATABASE_USER", "be")
	t.Setenv("DATABASE_PASSWORD", "pw")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Datasul.BaseURL != "http://erp.local:8080" || cfg.Datasul.User != "svc" || cfg.Datasul.Password != "secret" {
		t.Fatalf("datasul env not bound: %+v", cfg.Datasul)
	}
	if cfg.Datasul.Path != "/rest_cp12200_v7" || cfg.Datasul.EmissionTimeout != 30*time.Second {
		t.Fatalf("unexpected datasul defaults: %+v", cfg.Datasul)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Host != "db.local" || cfg.Database.Port != 3307 {
		t.Fatalf("database env not bound: %+v", cfg.Database)
	}
	if got := cfg.Database.DSN(); got != "be:pw@tcp(db.local:3307)/dbs?charset=utf8mb4&parseTime=True&loc=Local" {
		t.Fatalf("unexpected mysql dsn %s", got)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	c := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	if c.DSN() != "host=h port=5432 user=u password=p dbname=d sslmode=disable" {
		t.Fatalf("unexpected dsn %s", c.DSN())
	}
}
