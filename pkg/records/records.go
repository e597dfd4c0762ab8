// Package records reads searchable entities from the relational record store
// and renders each into a canonical text blob with a stable display code.
// The record store is owned by the surrounding application; everything here
// is a pure read.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// EntityType discriminates the closed set of searchable record kinds.
type EntityType string

const (
	TypeSCP       EntityType = "scp"
	TypePersonnel EntityType = "personnel"
	TypeMTF       EntityType = "mtf"
	TypeFacility  EntityType = "facility"
	TypeIncident  EntityType = "incident"
)

// ErrNotFound is returned when an entity has vanished from the record store
// between snapshot and detail fetch.
var ErrNotFound = errors.New("entity not found")

// Entity is one searchable record rendered for indexing.
type Entity struct {
	ID          int64
	Type        EntityType
	DisplayCode string
	Text        string
}

// SCPSummary carries the fields the fast-path lookup returns.
type SCPSummary struct {
	ID          int64
	Code        string
	Title       string
	ObjectClass string
	Description string
}

// Store reads entities from the record store database.
type Store struct {
	db *sql.DB
}

// New creates a record store reader over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Snapshot returns every live entity with its canonical text. Missing
// sub-fields render as empty strings; rendering templates are fixed per type
// so re-running over unchanged rows yields identical text.
func (s *Store) Snapshot(ctx context.Context) ([]Entity, error) {
	var entities []Entity

	collect := []func(context.Context) ([]Entity, error){
		s.snapshotSCPs,
		s.snapshotPersonnel,
		s.snapshotMTF,
		s.snapshotFacilities,
		s.snapshotIncidents,
	}
	for _, fn := range collect {
		batch, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		entities = append(entities, batch...)
	}

	return entities, nil
}

func (s *Store) snapshotSCPs(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scp_id, scp_code, title, object_class, full_description, containment_procedures
		FROM SCP
	`)
	if err != nil {
		return nil, fmt.Errorf("querying SCP rows: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id int64
		var code, title, class, desc, containment sql.NullString
		if err := rows.Scan(&id, &code, &title, &class, &desc, &containment); err != nil {
			return nil, fmt.Errorf("scanning SCP row: %w", err)
		}

		displayCode := code.String
		if displayCode == "" {
			displayCode = fmt.Sprintf("%s-%d", TypeSCP, id)
		}

		out = append(out, Entity{
			ID:          id,
			Type:        TypeSCP,
			DisplayCode: displayCode,
			Text: fmt.Sprintf("%s %s\nClass: %s\n\n%s\n\n%s",
				code.String, title.String, class.String, containment.String, desc.String),
		})
	}
	return out, rows.Err()
}

func (s *Store) snapshotPersonnel(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id, callsign, given_name, surname, role, notes
		FROM PERSONNEL
	`)
	if err != nil {
		return nil, fmt.Errorf("querying PERSONNEL rows: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id int64
		var callsign, given, surname, role, notes sql.NullString
		if err := rows.Scan(&id, &callsign, &given, &surname, &role, &notes); err != nil {
			return nil, fmt.Errorf("scanning PERSONNEL row: %w", err)
		}

		name := strings.TrimSpace(given.String + " " + surname.String)
		displayCode := callsign.String
		if displayCode == "" {
			displayCode = name
		}
		if displayCode == "" {
			displayCode = fmt.Sprintf("%s-%d", TypePersonnel, id)
		}

		out = append(out, Entity{
			ID:          id,
			Type:        TypePersonnel,
			DisplayCode: displayCode,
			Text: fmt.Sprintf("Personnel: %s\nCallsign: %s\nRole: %s\n\nNotes:\n%s",
				name, callsign.String, role.String, notes.String),
		})
	}
	return out, rows.Err()
}

func (s *Store) snapshotMTF(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mtf_id, designation, nickname, primary_role, notes
		FROM MOBILE_TASK_FORCE
	`)
	if err != nil {
		return nil, fmt.Errorf("querying MOBILE_TASK_FORCE rows: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id int64
		var designation, nickname, role, notes sql.NullString
		if err := rows.Scan(&id, &designation, &nickname, &role, &notes); err != nil {
			return nil, fmt.Errorf("scanning MOBILE_TASK_FORCE row: %w", err)
		}

		displayCode := designation.String
		if displayCode == "" {
			displayCode = fmt.Sprintf("%s-%d", TypeMTF, id)
		}

		out = append(out, Entity{
			ID:          id,
			Type:        TypeMTF,
			DisplayCode: displayCode,
			Text: fmt.Sprintf("Mobile Task Force %s '%s'\nRole: %s\n\nNotes:\n%s",
				designation.String, nickname.String, role.String, notes.String),
		})
	}
	return out, rows.Err()
}

func (s *Store) snapshotFacilities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT facility_id, code, name, purpose, city, country
		FROM FACILITY
	`)
	if err != nil {
		return nil, fmt.Errorf("querying FACILITY rows: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id int64
		var code, name, purpose, city, country sql.NullString
		if err := rows.Scan(&id, &code, &name, &purpose, &city, &country); err != nil {
			return nil, fmt.Errorf("scanning FACILITY row: %w", err)
		}

		displayCode := code.String
		if displayCode == "" {
			displayCode = fmt.Sprintf("%s-%d", TypeFacility, id)
		}

		out = append(out, Entity{
			ID:          id,
			Type:        TypeFacility,
			DisplayCode: displayCode,
			Text: fmt.Sprintf("Facility: %s (%s)\nLocation: %s, %s\n\nPurpose:\n%s",
				name.String, code.String, city.String, country.String, purpose.String),
		})
	}
	return out, rows.Err()
}

func (s *Store) snapshotIncidents(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, title, incident_date, summary, severity_level
		FROM INCIDENT
	`)
	if err != nil {
		return nil, fmt.Errorf("querying INCIDENT rows: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id int64
		var title, date, summary, severity sql.NullString
		if err := rows.Scan(&id, &title, &date, &summary, &severity); err != nil {
			return nil, fmt.Errorf("scanning INCIDENT row: %w", err)
		}

		out = append(out, Entity{
			ID:          id,
			Type:        TypeIncident,
			DisplayCode: fmt.Sprintf("INC-%d", id),
			Text: fmt.Sprintf("Incident Report: %s\nDate: %s\nSeverity: %s\n\nSummary:\n%s",
				title.String, date.String, severity.String, summary.String),
		})
	}
	return out, rows.Err()
}

// FindSCPByCode looks up an anomaly record by designation code for the
// fast-path exact match. The code is matched as a substring so padded
// variants ("SCP-049-J") still resolve.
func (s *Store) FindSCPByCode(ctx context.Context, code string) (*SCPSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scp_id, scp_code, title, object_class, full_description
		FROM SCP
		WHERE scp_code LIKE ?
		LIMIT 1
	`, "%"+code+"%")

	var out SCPSummary
	var scpCode, title, class, desc sql.NullString
	if err := row.Scan(&out.ID, &scpCode, &title, &class, &desc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fast-path SCP lookup: %w", err)
	}

	out.Code = scpCode.String
	out.Title = title.String
	out.ObjectClass = class.String
	out.Description = desc.String
	return &out, nil
}

// TitleSubtitle fetches the display title and subtitle for one entity, used
// during result assembly. Returns ErrNotFound when the row has vanished.
func (s *Store) TitleSubtitle(ctx context.Context, entityType EntityType, id int64) (title, subtitle string, err error) {
	var row *sql.Row
	switch entityType {
	case TypeSCP:
		row = s.db.QueryRowContext(ctx,
			`SELECT title, object_class FROM SCP WHERE scp_id = ?`, id)
		var t, c sql.NullString
		if err := row.Scan(&t, &c); err != nil {
			return "", "", notFoundOr(err, "SCP detail")
		}
		return t.String, c.String, nil

	case TypePersonnel:
		row = s.db.QueryRowContext(ctx,
			`SELECT given_name, surname, role FROM PERSONNEL WHERE person_id = ?`, id)
		var given, surname, role sql.NullString
		if err := row.Scan(&given, &surname, &role); err != nil {
			return "", "", notFoundOr(err, "PERSONNEL detail")
		}
		return strings.TrimSpace(given.String + " " + surname.String), role.String, nil

	case TypeMTF:
		row = s.db.QueryRowContext(ctx,
			`SELECT nickname FROM MOBILE_TASK_FORCE WHERE mtf_id = ?`, id)
		var nick sql.NullString
		if err := row.Scan(&nick); err != nil {
			return "", "", notFoundOr(err, "MOBILE_TASK_FORCE detail")
		}
		return nick.String, "Mobile Task Force", nil

	case TypeFacility:
		row = s.db.QueryRowContext(ctx,
			`SELECT name FROM FACILITY WHERE facility_id = ?`, id)
		var name sql.NullString
		if err := row.Scan(&name); err != nil {
			return "", "", notFoundOr(err, "FACILITY detail")
		}
		return name.String, "Facility", nil

	case TypeIncident:
		row = s.db.QueryRowContext(ctx,
			`SELECT title, severity_level FROM INCIDENT WHERE incident_id = ?`, id)
		var t, severity sql.NullString
		if err := row.Scan(&t, &severity); err != nil {
			return "", "", notFoundOr(err, "INCIDENT detail")
		}
		return t.String, "Severity " + severity.String, nil
	}

	return "", "", fmt.Errorf("unknown entity type %q", entityType)
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}
