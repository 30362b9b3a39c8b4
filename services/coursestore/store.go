// Package coursestore persists fetched course records so downstream
// consumers (schedule building, conflict search) can work offline. It
// is an explicit collaborator of the session client, never the other
// way around: nothing here feeds back into a live session.
package coursestore

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"entekhab-backend/lib/scrapers/golestan"
	"entekhab-backend/lib/textutil"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/coursestore")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) Store {
	return Store{db: db}
}

// Save replaces the stored snapshot of one status filter's course set.
func (s Store) Save(ctx context.Context, filter golestan.StatusFilter, courses []golestan.Course) error {
	ctx, span := tracer.Start(ctx, "store:Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("filter", string(filter)),
		attribute.Int("courses", len(courses)),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin transaction")
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM course WHERE status = ?`, string(filter))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM course_session WHERE status = ?`, string(filter))
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, course := range courses {
		examDate, examStart, examEnd := "", "", ""
		if course.Exam != nil {
			examDate = course.Exam.Date
			examStart = course.Exam.Start
			examEnd = course.Exam.End
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO course (
				code, status, name, credits, instructor, faculty,
				department, location, capacity, gender,
				enrollment_conditions, description,
				exam_date, exam_start, exam_end, fetched_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			course.Code, string(filter), course.Name, course.Credits,
			course.Instructor, course.Faculty, course.Department,
			course.Location, course.Capacity, course.Gender,
			course.EnrollmentConditions, course.Description,
			examDate, examStart, examEnd, now,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to insert course")
			return err
		}

		for idx, session := range course.Schedule {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO course_session (
					course_code, status, idx, day,
					start_time, end_time, parity
				) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				course.Code, string(filter), idx,
				session.Day, session.Start, session.End, string(session.Parity),
			)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to insert session")
				return err
			}
		}
	}

	return tx.Commit()
}

// Load returns the stored snapshot of one status filter's course set.
func (s Store) Load(ctx context.Context, filter golestan.StatusFilter) ([]golestan.Course, error) {
	ctx, span := tracer.Start(ctx, "store:Load")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, credits, instructor, faculty, department,
			location, capacity, gender, enrollment_conditions,
			description, exam_date, exam_start, exam_end
		FROM course WHERE status = ? ORDER BY faculty, department, code`,
		string(filter),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query courses")
		return nil, err
	}
	defer rows.Close()

	var courses []golestan.Course
	for rows.Next() {
		var course golestan.Course
		var examDate, examStart, examEnd string
		err = rows.Scan(
			&course.Code, &course.Name, &course.Credits,
			&course.Instructor, &course.Faculty, &course.Department,
			&course.Location, &course.Capacity, &course.Gender,
			&course.EnrollmentConditions, &course.Description,
			&examDate, &examStart, &examEnd,
		)
		if err != nil {
			return nil, err
		}
		if examDate != "" {
			course.Exam = &golestan.ExamTime{Date: examDate, Start: examStart, End: examEnd}
		}
		course.Schedule, err = s.sessions(ctx, course.Code, filter)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, rows.Err()
}

func (s Store) sessions(ctx context.Context, code string, filter golestan.StatusFilter) ([]golestan.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, start_time, end_time, parity
		FROM course_session
		WHERE course_code = ? AND status = ? ORDER BY idx`,
		code, string(filter),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []golestan.Session
	for rows.Next() {
		var session golestan.Session
		var parity string
		err = rows.Scan(&session.Day, &session.Start, &session.End, &parity)
		if err != nil {
			return nil, err
		}
		session.Parity = golestan.Parity(parity)
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

const searchThreshold = 0.8

// Search ranks stored courses against a free-form query by course
// name and instructor. Substring hits always qualify; otherwise the
// match must clear a Jaro-Winkler similarity threshold.
func (s Store) Search(ctx context.Context, filter golestan.StatusFilter, query string, limit int) ([]golestan.Course, error) {
	ctx, span := tracer.Start(ctx, "store:Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query))

	courses, err := s.Load(ctx, filter)
	if err != nil {
		return nil, err
	}

	normalized := textutil.NormalizeName(query)

	type ranked struct {
		course golestan.Course
		score  float64
	}
	var matches []ranked
	for _, course := range courses {
		score := max(
			similarity(normalized, course.Name),
			similarity(normalized, course.Instructor),
		)
		if score >= searchThreshold {
			matches = append(matches, ranked{course: course, score: score})
		}
	}

	slices.SortFunc(matches, func(a, b ranked) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return strings.Compare(a.course.Code, b.course.Code)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	result := make([]golestan.Course, len(matches))
	for i, m := range matches {
		result[i] = m.course
	}
	return result, nil
}

func similarity(normalizedQuery, candidate string) float64 {
	if normalizedQuery == "" {
		return 0
	}
	if textutil.MatchName(candidate, []string{normalizedQuery}) {
		return 1
	}
	candidate = textutil.NormalizeName(candidate)
	if candidate == "" {
		return 0
	}
	return matchr.JaroWinkler(normalizedQuery, candidate, false)
}
