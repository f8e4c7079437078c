package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/target/chronos/internal/apperr"
	"github.com/target/chronos/internal/calendar/base"
	"github.com/target/chronos/internal/model"
)

// calendarDoc is the JSON shape stored in calendars.calendar_data. Only
// *base.BaseCalendar is persistable: it is the one concrete model.Calendar
// this module ships, and its exclusion ranges plus optional parent chain
// serialize losslessly. A caller-supplied model.Calendar of any other
// concrete type is rejected with apperr.CodeValidation, the same way a
// caller-supplied trigger type unknown to the registry is rejected.
type calendarDoc struct {
	Excluded []rangeDoc   `json:"excluded"`
	Parent   *calendarDoc `json:"parent,omitempty"`
}

type rangeDoc struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func encodeCalendar(cal model.Calendar) ([]byte, error) {
	doc, err := toCalendarDoc(cal)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func toCalendarDoc(cal model.Calendar) (*calendarDoc, error) {
	if cal == nil {
		return nil, nil
	}
	bc, ok := cal.(*base.BaseCalendar)
	if !ok {
		return nil, apperr.New(apperr.CodeValidation, "pgstore only persists *base.BaseCalendar values")
	}
	doc := &calendarDoc{}
	for _, r := range bc.Ranges() {
		doc.Excluded = append(doc.Excluded, rangeDoc{Start: r.Start, End: r.End})
	}
	if parent := bc.Parent(); parent != nil {
		parentBC, ok := parent.(*base.BaseCalendar)
		if !ok {
			return nil, apperr.New(apperr.CodeValidation, "pgstore only persists *base.BaseCalendar parent chains")
		}
		parentDoc, err := toCalendarDoc(parentBC)
		if err != nil {
			return nil, err
		}
		doc.Parent = parentDoc
	}
	return doc, nil
}

func decodeCalendar(data []byte) (model.Calendar, error) {
	var doc calendarDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	return docToCalendar(&doc), nil
}

func docToCalendar(doc *calendarDoc) *base.BaseCalendar {
	if doc == nil {
		return nil
	}
	ranges := make([]base.Range, 0, len(doc.Excluded))
	for _, r := range doc.Excluded {
		ranges = append(ranges, base.Range{Start: r.Start, End: r.End})
	}
	var parent *base.BaseCalendar
	if doc.Parent != nil {
		parent = docToCalendar(doc.Parent)
	}
	if parent != nil {
		return base.FromRanges(ranges, parent)
	}
	return base.FromRanges(ranges, nil)
}

func (s *Store) StoreCalendar(ctx context.Context, name string, cal model.Calendar, replace bool) error {
	data, err := encodeCalendar(cal)
	if err != nil {
		return err
	}
	if replace {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO calendars (calendar_name, calendar_data) VALUES ($1, $2)
			ON CONFLICT (calendar_name) DO UPDATE SET calendar_data = EXCLUDED.calendar_data
		`, name, data)
		if err != nil {
			return fmt.Errorf("upsert calendar: %w", err)
		}
		return nil
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO calendars (calendar_name, calendar_data) VALUES ($1, $2)`, name, data)
	if isUniqueViolation(err) {
		return apperr.AlreadyExists(name)
	}
	if err != nil {
		return fmt.Errorf("insert calendar: %w", err)
	}
	return nil
}

func (s *Store) RemoveCalendar(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendars WHERE calendar_name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.CodeNotFound, "calendar not found")
	}
	return nil
}

func (s *Store) GetCalendar(ctx context.Context, name string) (model.Calendar, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT calendar_data FROM calendars WHERE calendar_name = $1`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "calendar not found")
	}
	if err != nil {
		return nil, fmt.Errorf("select calendar: %w", err)
	}
	return decodeCalendar(data)
}

func (s *Store) ClearAllSchedulingData(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE TABLE fired_triggers, triggers, jobs, calendars, paused_trigger_groups RESTART IDENTITY CASCADE
	`)
	if err != nil {
		return fmt.Errorf("clear scheduling data: %w", err)
	}
	return nil
}
