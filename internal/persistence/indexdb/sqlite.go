package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"arcatch.ai/internal/sim/catalogs"
	"arcatch.ai/internal/sim/events"
	"arcatch.ai/internal/sim/tuning"
)

// SQLiteLedger records spawns, capture resolutions and projections. Writes
// go through a buffered channel to a single writer goroutine; the compressed
// event log stays the source of truth, so a full queue drops rows.
type SQLiteLedger struct {
	db *sql.DB

	ch    chan req
	flush chan chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	closed atomic.Bool

	dropSpawn      atomic.Uint64
	dropCapture    atomic.Uint64
	dropProjection atomic.Uint64
	dropLoadError  atomic.Uint64
	writeErrs      atomic.Uint64
}

type reqKind int

const (
	reqSpawn reqKind = iota + 1
	reqCapture
	reqProjection
	reqLoadError
)

type req struct {
	kind reqKind

	spawn      spawnRow
	capture    captureRow
	projection projectionRow
	loadError  loadErrorRow
}

type spawnRow struct {
	InstanceID string
	CreatureID string
	Tick       uint64
	AtMS       int64
	X, Y, Z    float64
	Fallback   bool
}

type captureRow struct {
	Tick       uint64
	InstanceID string
	CreatureID string
	Distance   float64
	Accuracy   float64
	Chance     float64
	Draw       float64
	Rare       bool
	Success    bool
}

type projectionRow struct {
	InstanceID string
	CreatureID string
	Tick       uint64
	Delivered  bool
	Status     int
	ElapsedMS  int64
	Err        string
}

type loadErrorRow struct {
	Tick        uint64
	RequestedID string
	Err         string
	Suggestions string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropSpawnTotal      uint64
	DropCaptureTotal    uint64
	DropProjectionTotal uint64
	DropLoadErrorTotal  uint64
	WriteErrorTotal     uint64
}

// CreatureSummary aggregates the ledger for one creature id.
type CreatureSummary struct {
	CreatureID  string `json:"creature_id"`
	Spawns      int    `json:"spawns"`
	Attempts    int    `json:"attempts"`
	Captures    int    `json:"captures"`
	Projected   int    `json:"projected"`
	ProjectFail int    `json:"projection_failures"`
}

func OpenSQLite(path string) (*SQLiteLedger, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteLedger{
		db:    db,
		ch:    make(chan req, queue),
		flush: make(chan chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS spawns (
			instance_id TEXT PRIMARY KEY,
			creature_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			at_ms INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			fallback INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_spawns_creature ON spawns(creature_id, tick);`,
		`CREATE TABLE IF NOT EXISTS captures (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			instance_id TEXT NOT NULL,
			creature_id TEXT NOT NULL,
			distance REAL NOT NULL,
			accuracy REAL NOT NULL,
			chance REAL NOT NULL,
			draw REAL NOT NULL,
			rare INTEGER NOT NULL,
			success INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_captures_creature ON captures(creature_id, tick);`,
		`CREATE TABLE IF NOT EXISTS projections (
			instance_id TEXT PRIMARY KEY,
			creature_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			delivered INTEGER NOT NULL,
			status INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS load_errors (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			requested_id TEXT NOT NULL,
			error TEXT NOT NULL,
			suggestions TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteLedger) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Attach routes ledger-relevant bus events into the write queue.
func (s *SQLiteLedger) Attach(bus *events.Bus) (detach func()) {
	return bus.SubscribeAll(s.Record)
}

// Record enqueues the row derived from ev, if any. It never blocks.
func (s *SQLiteLedger) Record(ev events.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	switch ev.Kind {
	case events.CreatureLoaded:
		pos := vec(ev.Data["position"])
		s.enqueue(req{kind: reqSpawn, spawn: spawnRow{
			InstanceID: ev.InstanceID,
			CreatureID: ev.CreatureID,
			Tick:       ev.Tick,
			AtMS:       ev.AtMS,
			X:          pos[0],
			Y:          pos[1],
			Z:          pos[2],
			Fallback:   flag(ev.Data["fallback"]),
		}}, &s.dropSpawn)
	case events.CaptureResolved:
		s.enqueue(req{kind: reqCapture, capture: captureRow{
			Tick:       ev.Tick,
			InstanceID: ev.InstanceID,
			CreatureID: ev.CreatureID,
			Distance:   num(ev.Data["distance"]),
			Accuracy:   num(ev.Data["accuracy"]),
			Chance:     num(ev.Data["chance"]),
			Draw:       num(ev.Data["draw"]),
			Rare:       flag(ev.Data["rare"]),
			Success:    flag(ev.Data["success"]),
		}}, &s.dropCapture)
	case events.ProjectionDelivered, events.ProjectionFailed:
		errText, _ := ev.Data["error"].(string)
		s.enqueue(req{kind: reqProjection, projection: projectionRow{
			InstanceID: ev.InstanceID,
			CreatureID: ev.CreatureID,
			Tick:       ev.Tick,
			Delivered:  ev.Kind == events.ProjectionDelivered,
			Status:     int(num(ev.Data["status"])),
			ElapsedMS:  int64(num(ev.Data["elapsed_ms"])),
			Err:        errText,
		}}, &s.dropProjection)
	case events.LoadingError:
		errText, _ := ev.Data["error"].(string)
		var sugg string
		if v, ok := ev.Data["suggestions"]; ok {
			b, _ := json.Marshal(v)
			sugg = string(b)
		}
		s.enqueue(req{kind: reqLoadError, loadError: loadErrorRow{
			Tick:        ev.Tick,
			RequestedID: ev.CreatureID,
			Err:         errText,
			Suggestions: sugg,
		}}, &s.dropLoadError)
	}
}

func (s *SQLiteLedger) enqueue(r req, drops *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteLedger) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropSpawnTotal:      s.dropSpawn.Load(),
		DropCaptureTotal:    s.dropCapture.Load(),
		DropProjectionTotal: s.dropProjection.Load(),
		DropLoadErrorTotal:  s.dropLoadError.Load(),
		WriteErrorTotal:     s.writeErrs.Load(),
	}
}

// UpsertCatalogs stores the creature catalog and applied tuning with digests.
func (s *SQLiteLedger) UpsertCatalogs(cat *catalogs.Catalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cat != nil {
		defs := make([]catalogs.CreatureConfig, 0, len(cat.ByID))
		for _, d := range cat.ByID {
			defs = append(defs, d)
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		if b, err := json.Marshal(defs); err == nil {
			rows = append(rows, kv{name: "creatures", digest: cat.Digest, json: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for a catalog row.
func (s *SQLiteLedger) CatalogDigest(ctx context.Context, name string) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&digest)
	return digest, err
}

// Summary aggregates committed rows per creature id, ordered by id.
func (s *SQLiteLedger) Summary(ctx context.Context) ([]CreatureSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			(SELECT COUNT(*) FROM spawns WHERE creature_id=id),
			(SELECT COUNT(*) FROM captures WHERE creature_id=id),
			(SELECT COUNT(*) FROM captures WHERE creature_id=id AND success=1),
			(SELECT COUNT(*) FROM projections WHERE creature_id=id AND delivered=1),
			(SELECT COUNT(*) FROM projections WHERE creature_id=id AND delivered=0)
		FROM (
			SELECT creature_id AS id FROM spawns
			UNION SELECT creature_id FROM captures
			UNION SELECT creature_id FROM projections
		)
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CreatureSummary
	for rows.Next() {
		var cs CreatureSummary
		if err := rows.Scan(&cs.CreatureID, &cs.Spawns, &cs.Attempts, &cs.Captures, &cs.Projected, &cs.ProjectFail); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Sync blocks until every row queued before the call is committed.
func (s *SQLiteLedger) Sync(ctx context.Context) error {
	for {
		if len(s.ch) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	done := make(chan struct{})
	select {
	case s.flush <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteLedger) loop() {
	ctx := context.Background()

	insertSpawn, _ := s.db.Prepare(`INSERT OR REPLACE INTO spawns(instance_id,creature_id,tick,at_ms,x,y,z,fallback) VALUES(?,?,?,?,?,?,?,?)`)
	insertCapture, _ := s.db.Prepare(`INSERT INTO captures(tick,instance_id,creature_id,distance,accuracy,chance,draw,rare,success) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertProjection, _ := s.db.Prepare(`INSERT OR REPLACE INTO projections(instance_id,creature_id,tick,delivered,status,elapsed_ms,error) VALUES(?,?,?,?,?,?,?)`)
	insertLoadError, _ := s.db.Prepare(`INSERT INTO load_errors(tick,requested_id,error,suggestions) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSpawn, insertCapture, insertProjection, insertLoadError} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrs.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqSpawn:
				sp := r.spawn
				exec(insertSpawn, sp.InstanceID, sp.CreatureID, int64(sp.Tick), sp.AtMS, sp.X, sp.Y, sp.Z, boolInt(sp.Fallback))
			case reqCapture:
				c := r.capture
				exec(insertCapture, int64(c.Tick), c.InstanceID, c.CreatureID, c.Distance, c.Accuracy, c.Chance, c.Draw, boolInt(c.Rare), boolInt(c.Success))
			case reqProjection:
				p := r.projection
				exec(insertProjection, p.InstanceID, p.CreatureID, int64(p.Tick), boolInt(p.Delivered), p.Status, p.ElapsedMS, p.Err)
			case reqLoadError:
				le := r.loadError
				exec(insertLoadError, int64(le.Tick), le.RequestedID, le.Err, le.Suggestions)
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case done := <-s.flush:
			commit()
			close(done)
		case <-ticker.C:
			commit()
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func flag(v any) bool {
	b, _ := v.(bool)
	return b
}

// vec reads a position published either as a struct or as decoded JSON.
func vec(v any) [3]float64 {
	switch p := v.(type) {
	case map[string]any:
		return [3]float64{num(p["x"]), num(p["y"]), num(p["z"])}
	case nil:
		return [3]float64{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return [3]float64{}
	}
	var m map[string]float64
	if json.Unmarshal(b, &m) != nil {
		return [3]float64{}
	}
	return [3]float64{m["x"], m["y"], m["z"]}
}
