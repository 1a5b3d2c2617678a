package db

import (
	"strings"
	"testing"

	"musicsquare/config"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db.local",
		DBPort:     "3307",
		DBUser:     "music",
		DBPassword: "p@ss",
		DBName:     "square",
	}
	dsn := DSN(cfg)
	if !strings.HasPrefix(dsn, "music:p@ss@tcp(db.local:3307)/square?") {
		t.Errorf("unexpected dsn %q", dsn)
	}
	for _, want := range []string{"parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %s", dsn, want)
		}
	}
}
