/*
Package sqlite persists the bundled records-service data.

PURPOSE:
  Backing store for the in-process collaborator (collaborator/stub):
  the publisher roster, filed monthly reports and meeting attendance.
  The reporting core itself keeps nothing on disk; this store exists so
  development and tests can run against a real records service without
  the production one.

KEY TABLES:
  publishers:  roster records
  reports:     monthly reports, UNIQUE(publisher_id, month) -- zero or
               one report per publisher per period is a service
               invariant, enforced here
  attendance:  per-meeting attendance counts for the S-3/S-1 reports

WAL MODE:
  Opened with WAL and foreign keys on, same as any of our SQLite
  deployments: readers don't block and crash recovery is sane.

USAGE:
  store, err := sqlite.New(":memory:")
  ...
  defer store.Close()

SEE ALSO:
  - collaborator/stub: HTTP layer over this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/congregation-engine/collaborator"
	"github.com/warp/congregation-engine/roster"
	"github.com/warp/congregation-engine/serviceyear"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists publishers, reports and attendance in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS publishers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		birth_date TEXT,
		baptism_date TEXT,
		grp INTEGER NOT NULL DEFAULT 1,
		group_role INTEGER NOT NULL DEFAULT 0,
		sex TEXT NOT NULL DEFAULT 'H',
		type_id INTEGER NOT NULL DEFAULT 1,
		privilege_id INTEGER NOT NULL DEFAULT 0,
		anointed INTEGER NOT NULL DEFAULT 0,
		street TEXT, num TEXT, neighborhood TEXT,
		phone TEXT, mobile TEXT,
		emergency_contact TEXT, emergency_phone TEXT, emergency_email TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_publishers_group ON publishers(grp);

	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		publisher_id INTEGER NOT NULL REFERENCES publishers(id),
		month TEXT NOT NULL,             -- period key, "2006-01"
		preached INTEGER NOT NULL DEFAULT 0,
		hours INTEGER NOT NULL DEFAULT 0,
		courses INTEGER NOT NULL DEFAULT 0,
		type_id INTEGER NOT NULL DEFAULT 1,
		notes TEXT NOT NULL DEFAULT ''
	);

	-- Zero or one report per (publisher, month).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reports_publisher_month
		ON reports(publisher_id, month);
	CREATE INDEX IF NOT EXISTS idx_reports_month ON reports(month);

	CREATE TABLE IF NOT EXISTS attendance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		meeting_date TEXT NOT NULL,      -- "2006-01-02"
		meeting_type TEXT NOT NULL,      -- "ES" midweek, "FS" weekend
		attendees INTEGER NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(meeting_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PUBLISHERS
// =============================================================================

// SavePublisher inserts a publisher, or updates it when ID is set.
// The assigned ID is returned.
func (s *Store) SavePublisher(ctx context.Context, p roster.Publisher) (roster.PublisherID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	anointed := 0
	if p.Anointed {
		anointed = 1
	}

	if p.ID != 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE publishers SET first_name=?, last_name=?, birth_date=?, baptism_date=?,
				grp=?, group_role=?, sex=?, type_id=?, privilege_id=?, anointed=?,
				street=?, num=?, neighborhood=?, phone=?, mobile=?,
				emergency_contact=?, emergency_phone=?, emergency_email=?
			WHERE id=?`,
			p.FirstName, p.LastName, p.BirthDate, p.BaptismDate,
			p.Group, int(p.GroupRole), p.Sex, int(p.Type), int(p.Privilege), anointed,
			p.Street, p.Number, p.Neighborhood, p.Phone, p.Mobile,
			p.EmergencyContact, p.EmergencyPhone, p.EmergencyEmail,
			int(p.ID))
		if err != nil {
			return 0, fmt.Errorf("update publisher: %w", err)
		}
		return p.ID, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO publishers (first_name, last_name, birth_date, baptism_date,
			grp, group_role, sex, type_id, privilege_id, anointed,
			street, num, neighborhood, phone, mobile,
			emergency_contact, emergency_phone, emergency_email)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.FirstName, p.LastName, p.BirthDate, p.BaptismDate,
		p.Group, int(p.GroupRole), p.Sex, int(p.Type), int(p.Privilege), anointed,
		p.Street, p.Number, p.Neighborhood, p.Phone, p.Mobile,
		p.EmergencyContact, p.EmergencyPhone, p.EmergencyEmail)
	if err != nil {
		return 0, fmt.Errorf("insert publisher: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return roster.PublisherID(id), nil
}

// ListPublishers returns the whole roster, unordered.
func (s *Store) ListPublishers(ctx context.Context) ([]roster.Publisher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, COALESCE(birth_date,''), COALESCE(baptism_date,''),
			grp, group_role, sex, type_id, privilege_id, anointed,
			COALESCE(street,''), COALESCE(num,''), COALESCE(neighborhood,''),
			COALESCE(phone,''), COALESCE(mobile,''),
			COALESCE(emergency_contact,''), COALESCE(emergency_phone,''), COALESCE(emergency_email,'')
		FROM publishers`)
	if err != nil {
		return nil, fmt.Errorf("list publishers: %w", err)
	}
	defer rows.Close()

	var out []roster.Publisher
	for rows.Next() {
		var p roster.Publisher
		var id, groupRole, typeID, privilegeID, anointed int
		if err := rows.Scan(&id, &p.FirstName, &p.LastName, &p.BirthDate, &p.BaptismDate,
			&p.Group, &groupRole, &p.Sex, &typeID, &privilegeID, &anointed,
			&p.Street, &p.Number, &p.Neighborhood, &p.Phone, &p.Mobile,
			&p.EmergencyContact, &p.EmergencyPhone, &p.EmergencyEmail); err != nil {
			return nil, err
		}
		p.ID = roster.PublisherID(id)
		p.GroupRole = roster.GroupRole(groupRole)
		p.Type = roster.PublisherType(typeID)
		p.Privilege = roster.Privilege(privilegeID)
		p.Anointed = anointed != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPublisher returns one roster record.
func (s *Store) GetPublisher(ctx context.Context, id roster.PublisherID) (roster.Publisher, error) {
	publishers, err := s.ListPublishers(ctx)
	if err != nil {
		return roster.Publisher{}, err
	}
	for _, p := range publishers {
		if p.ID == id {
			return p, nil
		}
	}
	return roster.Publisher{}, ErrNotFound
}

// =============================================================================
// MONTHLY REPORTS
// =============================================================================

// GetReport returns the report for one (publisher, month), or
// ErrNotFound.
func (s *Store) GetReport(ctx context.Context, id roster.PublisherID, month serviceyear.Month) (collaborator.MonthlyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT publisher_id, month, preached, hours, courses, type_id, notes
		FROM reports WHERE publisher_id=? AND month=?`,
		int(id), month.String())
	return scanReport(row)
}

// UpsertReport writes one report, replacing any prior report for the
// same (publisher, month).
func (s *Store) UpsertReport(ctx context.Context, r collaborator.MonthlyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertReportTx(ctx, s.db, r)
}

// UpsertReportsBatch writes a whole working set in one transaction.
// Either every row lands or none does.
func (s *Store) UpsertReportsBatch(ctx context.Context, reports []collaborator.MonthlyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, r := range reports {
		if err := upsertReportTx(ctx, tx, r); err != nil {
			tx.Rollback()
			return fmt.Errorf("batch row publisher=%d: %w", r.PublisherID, err)
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertReportTx(ctx context.Context, db execer, r collaborator.MonthlyReport) error {
	preached := 0
	if r.Preached {
		preached = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO reports (publisher_id, month, preached, hours, courses, type_id, notes)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(publisher_id, month) DO UPDATE SET
			preached=excluded.preached, hours=excluded.hours,
			courses=excluded.courses, type_id=excluded.type_id, notes=excluded.notes`,
		int(r.PublisherID), r.Month.String(), preached, r.Hours, r.Courses,
		int(r.TypeAtReport), r.Notes)
	return err
}

// ListReportsForYear returns one publisher's reports within a service
// year, in period order.
func (s *Store) ListReportsForYear(ctx context.Context, id roster.PublisherID, year serviceyear.Year) ([]collaborator.MonthlyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	months := year.Months()
	first, last := months[0].String(), months[len(months)-1].String()

	rows, err := s.db.QueryContext(ctx, `
		SELECT publisher_id, month, preached, hours, courses, type_id, notes
		FROM reports WHERE publisher_id=? AND month BETWEEN ? AND ?
		ORDER BY month`,
		int(id), first, last)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// MonthTotals aggregates one month's filed reports by publisher type.
type MonthTotals struct {
	Type     roster.PublisherType
	Reported int
	Preached int
	Hours    int
	Courses  int
}

// TotalsForMonth returns per-type aggregates for one period month.
func (s *Store) TotalsForMonth(ctx context.Context, month serviceyear.Month) ([]MonthTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT type_id, COUNT(*), SUM(preached), SUM(hours), SUM(courses)
		FROM reports WHERE month=? GROUP BY type_id ORDER BY type_id`,
		month.String())
	if err != nil {
		return nil, fmt.Errorf("month totals: %w", err)
	}
	defer rows.Close()

	var out []MonthTotals
	for rows.Next() {
		var t MonthTotals
		var typeID int
		if err := rows.Scan(&typeID, &t.Reported, &t.Preached, &t.Hours, &t.Courses); err != nil {
			return nil, err
		}
		t.Type = roster.PublisherType(typeID)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// AttendanceEntry is one meeting's headcount.
type AttendanceEntry struct {
	ID          int
	MeetingDate string // "2006-01-02"
	MeetingType string // "ES" or "FS"
	Attendees   int
	Notes       string
}

// SaveAttendance inserts one attendance record.
func (s *Store) SaveAttendance(ctx context.Context, e AttendanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (meeting_date, meeting_type, attendees, notes)
		VALUES (?,?,?,?)`,
		e.MeetingDate, e.MeetingType, e.Attendees, e.Notes)
	return err
}

// ListAttendance returns attendance of one meeting type within a
// service year, in date order.
func (s *Store) ListAttendance(ctx context.Context, year serviceyear.Year, meetingType string) ([]AttendanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, end := year.Span()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, meeting_date, meeting_type, attendees, notes
		FROM attendance
		WHERE meeting_type=? AND meeting_date BETWEEN ? AND ?
		ORDER BY meeting_date`,
		meetingType, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []AttendanceEntry
	for rows.Next() {
		var e AttendanceEntry
		if err := rows.Scan(&e.ID, &e.MeetingDate, &e.MeetingType, &e.Attendees, &e.Notes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (collaborator.MonthlyReport, error) {
	var r collaborator.MonthlyReport
	var publisherID, preached, typeID int
	var month string
	err := row.Scan(&publisherID, &month, &preached, &r.Hours, &r.Courses, &typeID, &r.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	m, err := serviceyear.ParseMonth(month)
	if err != nil {
		return r, err
	}
	r.PublisherID = roster.PublisherID(publisherID)
	r.Month = m
	r.Preached = preached != 0
	r.TypeAtReport = roster.PublisherType(typeID)
	return r, nil
}

func collectReports(rows *sql.Rows) ([]collaborator.MonthlyReport, error) {
	var out []collaborator.MonthlyReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
