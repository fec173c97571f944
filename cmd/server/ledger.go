package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"arcatch.ai/internal/persistence/indexdb"
)

// openLedger returns nil when the ledger is disabled by flag or by
// ARCATCH_LEDGER_BACKEND.
func openLedger(sessionDir string, disableDB bool) (*indexdb.SQLiteLedger, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ARCATCH_LEDGER_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(sessionDir, "ledger", "captures.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported ARCATCH_LEDGER_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
