package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	session := fs.String("session", "", "session id (default: newest)")
	dbPath := fs.String("db", "", "sqlite ledger path (optional)")
	creature := fs.String("creature", "", "creature_id filter")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "captures"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		dir, err := resolveSession(*dataDir, *session)
		if err != nil {
			fmt.Fprintln(os.Stderr, "session:", err)
			os.Exit(2)
		}
		path = ledgerPath(dir)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := queryLedger(db, q, strings.TrimSpace(*creature), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type spawnRow struct {
	InstanceID string     `json:"instance_id"`
	CreatureID string     `json:"creature_id"`
	Tick       uint64     `json:"tick"`
	AtMS       int64      `json:"at_ms"`
	Pos        [3]float64 `json:"pos"`
	Fallback   bool       `json:"fallback"`
}

type captureRow struct {
	Seq        int64   `json:"seq"`
	Tick       uint64  `json:"tick"`
	InstanceID string  `json:"instance_id"`
	CreatureID string  `json:"creature_id"`
	Distance   float64 `json:"distance"`
	Accuracy   float64 `json:"accuracy"`
	Chance     float64 `json:"chance"`
	Draw       float64 `json:"draw"`
	Rare       bool    `json:"rare"`
	Success    bool    `json:"success"`
}

type projectionRow struct {
	InstanceID string `json:"instance_id"`
	CreatureID string `json:"creature_id"`
	Tick       uint64 `json:"tick"`
	Delivered  bool   `json:"delivered"`
	Status     int    `json:"status"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
}

type loadErrorRow struct {
	Seq         int64    `json:"seq"`
	Tick        uint64   `json:"tick"`
	RequestedID string   `json:"requested_id"`
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type catalogRow struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
}

type rateRow struct {
	CreatureID string  `json:"creature_id"`
	Attempts   int     `json:"attempts"`
	Captures   int     `json:"captures"`
	Rate       float64 `json:"rate"`
	AvgChance  float64 `json:"avg_chance"`
}

// queryLedger runs one named read-only query. An empty creature matches all.
func queryLedger(db *sql.DB, q, creature string, limit int) ([]any, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []any
	switch q {
	case "spawns":
		rows, err := db.Query(`SELECT instance_id,creature_id,tick,at_ms,x,y,z,fallback FROM spawns WHERE (?='' OR creature_id=?) ORDER BY tick DESC LIMIT ?`, creature, creature, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r spawnRow
			var fb int
			if err := rows.Scan(&r.InstanceID, &r.CreatureID, &r.Tick, &r.AtMS, &r.Pos[0], &r.Pos[1], &r.Pos[2], &fb); err != nil {
				return nil, err
			}
			r.Fallback = fb != 0
			out = append(out, r)
		}
		return out, rows.Err()

	case "captures":
		rows, err := db.Query(`SELECT seq,tick,instance_id,creature_id,distance,accuracy,chance,draw,rare,success FROM captures WHERE (?='' OR creature_id=?) ORDER BY seq DESC LIMIT ?`, creature, creature, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r captureRow
			var rare, ok int
			if err := rows.Scan(&r.Seq, &r.Tick, &r.InstanceID, &r.CreatureID, &r.Distance, &r.Accuracy, &r.Chance, &r.Draw, &rare, &ok); err != nil {
				return nil, err
			}
			r.Rare = rare != 0
			r.Success = ok != 0
			out = append(out, r)
		}
		return out, rows.Err()

	case "rates":
		rows, err := db.Query(`SELECT creature_id, COUNT(*), SUM(success), AVG(chance) FROM captures WHERE (?='' OR creature_id=?) GROUP BY creature_id ORDER BY creature_id LIMIT ?`, creature, creature, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r rateRow
			if err := rows.Scan(&r.CreatureID, &r.Attempts, &r.Captures, &r.AvgChance); err != nil {
				return nil, err
			}
			if r.Attempts > 0 {
				r.Rate = float64(r.Captures) / float64(r.Attempts)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "projections":
		rows, err := db.Query(`SELECT instance_id,creature_id,tick,delivered,status,elapsed_ms,COALESCE(error,'') FROM projections WHERE (?='' OR creature_id=?) ORDER BY tick DESC LIMIT ?`, creature, creature, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r projectionRow
			var delivered int
			if err := rows.Scan(&r.InstanceID, &r.CreatureID, &r.Tick, &delivered, &r.Status, &r.ElapsedMS, &r.Error); err != nil {
				return nil, err
			}
			r.Delivered = delivered != 0
			out = append(out, r)
		}
		return out, rows.Err()

	case "load_errors":
		rows, err := db.Query(`SELECT seq,tick,requested_id,error,COALESCE(suggestions,'') FROM load_errors WHERE (?='' OR requested_id=?) ORDER BY seq DESC LIMIT ?`, creature, creature, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r loadErrorRow
			var sugg string
			if err := rows.Scan(&r.Seq, &r.Tick, &r.RequestedID, &r.Error, &sugg); err != nil {
				return nil, err
			}
			if sugg != "" {
				_ = json.Unmarshal([]byte(sugg), &r.Suggestions)
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var r catalogRow
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()

	default:
		return nil, fmt.Errorf("unknown query %q (spawns, captures, rates, projections, load_errors, catalogs)", q)
	}
}
