package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "arcatch.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "ledger":
			ledgerCmd(os.Args[2:])
			return
		case "input":
			inputCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints each recorded session with its event file count.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "sessions")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		dir := filepath.Join(base, name)
		files, _ := persistlog.EventFiles(dir)
		ledger := "-"
		if _, err := os.Stat(ledgerPath(dir)); err == nil {
			ledger = "ledger"
		}
		fmt.Printf("%s\tevent_files=%d\t%s\n", name, len(files), ledger)
	}
}

func ledgerPath(sessionDir string) string {
	return filepath.Join(sessionDir, "ledger", "captures.sqlite")
}

// resolveSession picks the named session or the newest one.
func resolveSession(dataDir, session string) (string, error) {
	base := filepath.Join(dataDir, "sessions")
	if s := strings.TrimSpace(session); s != "" {
		return filepath.Join(base, s), nil
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", err
	}
	var latest string
	for _, e := range entries {
		if e.IsDir() && e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no sessions under %s", base)
	}
	return filepath.Join(base, latest), nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
