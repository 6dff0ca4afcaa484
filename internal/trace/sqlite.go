package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/structs"
	// Register the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"

	"github.com/signalsfoundry/wifi-roaming-sim/model"
)

// Table names of the SQLite trace database.
const (
	AssociationTable = "association_events"
	SignalTable      = "signal_samples"
	FlowTable        = "flow_stats"
)

const defaultBatchSize = 10000

type associationEntry struct {
	Time      float64
	EventType string
	StationID int
	FromAP    int
	ToAP      int
}

type signalEntry struct {
	Time      float64
	StationID int
	APID      int
	PosX      float64
	PosY      float64
	RSSI      float64
}

type flowEntry struct {
	FlowID         int64
	Source         string
	Destination    string
	TxPackets      int64
	RxPackets      int64
	LostPackets    int64
	DelaySum       float64
	JitterSum      float64
	LastDelay      float64
	TxBytes        int64
	RxBytes        int64
	Duration       float64
	ThroughputKbps float64
}

type sqlTable struct {
	name    string
	entries []any
}

// SQLiteSink stores the traces in a SQLite database: one table per record
// kind, rows buffered and inserted in batches inside a transaction.
type SQLiteSink struct {
	db   *sql.DB
	path string

	tables    []*sqlTable
	byName    map[string]*sqlTable
	batchSize int
	pending   int
	closed    bool
}

// DefaultSQLitePath returns a fresh database name under dir.
func DefaultSQLitePath(dir string) string {
	return filepath.Join(dir, "wifisim_"+xid.New().String()+".sqlite3")
}

// NewSQLiteSink creates the database at path and its tables. It refuses to
// overwrite an existing file.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("sqlite trace %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite trace: %w", err)
	}

	s := &SQLiteSink{
		db:        db,
		path:      path,
		byName:    make(map[string]*sqlTable),
		batchSize: defaultBatchSize,
	}
	for _, t := range []struct {
		name   string
		sample any
	}{
		{AssociationTable, associationEntry{}},
		{SignalTable, signalEntry{}},
		{FlowTable, flowEntry{}},
	} {
		if err := s.createTable(t.name, t.sample); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path is the database file.
func (s *SQLiteSink) Path() string { return s.path }

// DB exposes the connection for queries.
func (s *SQLiteSink) DB() *sql.DB { return s.db }

func (s *SQLiteSink) createTable(name string, sample any) error {
	fields := strings.Join(structs.Names(sample), ", \n\t")
	stmt := `CREATE TABLE ` + name + ` (` + "\n\t" + fields + "\n" + `);`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	t := &sqlTable{name: name}
	s.tables = append(s.tables, t)
	s.byName[name] = t
	return nil
}

func (s *SQLiteSink) insert(table string, entry any) error {
	if s.closed {
		return errors.New("sqlite trace is closed")
	}
	t := s.byName[table]
	t.entries = append(t.entries, entry)
	s.pending++
	if s.pending >= s.batchSize {
		return s.Flush()
	}
	return nil
}

// RecordAssociation buffers one association event.
func (s *SQLiteSink) RecordAssociation(ev model.AssociationEvent) error {
	return s.insert(AssociationTable, associationEntry{
		Time:      ev.Time.Seconds(),
		EventType: ev.Type.String(),
		StationID: int(ev.StationID),
		FromAP:    int(ev.FromAP),
		ToAP:      int(ev.ToAP),
	})
}

// RecordSignal buffers one RSSI sample.
func (s *SQLiteSink) RecordSignal(sample model.SignalSample) error {
	return s.insert(SignalTable, signalEntry{
		Time:      sample.Time.Seconds(),
		StationID: int(sample.StationID),
		APID:      int(sample.APID),
		PosX:      sample.PosX,
		PosY:      sample.PosY,
		RSSI:      sample.RSSI,
	})
}

// RecordFlows buffers the flow statistics.
func (s *SQLiteSink) RecordFlows(flows []model.FlowStats) error {
	for _, f := range flows {
		err := s.insert(FlowTable, flowEntry{
			FlowID:         int64(f.FlowID),
			Source:         f.Key.Source.String(),
			Destination:    f.Key.Destination.String(),
			TxPackets:      int64(f.TxPackets),
			RxPackets:      int64(f.RxPackets),
			LostPackets:    int64(f.LostPackets()),
			DelaySum:       f.DelaySum.Seconds(),
			JitterSum:      f.JitterSum.Seconds(),
			LastDelay:      f.LastDelay.Seconds(),
			TxBytes:        int64(f.TxBytes),
			RxBytes:        int64(f.RxBytes),
			Duration:       f.Duration().Seconds(),
			ThroughputKbps: f.ThroughputKbps(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every buffered row in one transaction.
func (s *SQLiteSink) Flush() error {
	if s.pending == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sqlite batch: %w", err)
	}
	for _, t := range s.tables {
		if len(t.entries) == 0 {
			continue
		}
		marks := make([]string, len(structs.Names(t.entries[0])))
		for i := range marks {
			marks[i] = "?"
		}
		stmt, err := tx.Prepare("INSERT INTO " + t.name + " VALUES (" + strings.Join(marks, ", ") + ")")
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prepare insert into %s: %w", t.name, err)
		}
		for _, e := range t.entries {
			if _, err := stmt.Exec(structs.Values(e)...); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return fmt.Errorf("insert into %s: %w", t.name, err)
			}
		}
		_ = stmt.Close()
		t.entries = nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite batch: %w", err)
	}
	s.pending = 0
	return nil
}

// Close flushes the remaining rows and closes the database.
func (s *SQLiteSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	return errors.Join(err, s.db.Close())
}
