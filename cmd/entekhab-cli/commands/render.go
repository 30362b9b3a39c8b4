package commands

import (
	"os"
	"strings"

	"entekhab-backend/lib/scrapers/golestan"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func formatSchedule(sessions []golestan.Session) string {
	parts := make([]string, len(sessions))
	for i, s := range sessions {
		part := s.Day + " " + s.Start + "-" + s.End
		switch s.Parity {
		case golestan.ParityOdd:
			part += " (odd)"
		case golestan.ParityEven:
			part += " (even)"
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

func formatExam(exam *golestan.ExamTime) string {
	if exam == nil {
		return ""
	}
	return exam.Date + " " + exam.Start + "-" + exam.End
}

func renderCourses(courses []golestan.Course) {
	t := newTable()
	t.AppendHeader(table.Row{"Code", "Name", "Credits", "Instructor", "Capacity", "Schedule", "Exam"})
	for _, c := range courses {
		t.AppendRow(table.Row{
			c.Code,
			c.Name,
			c.Credits,
			c.Instructor,
			c.Capacity,
			formatSchedule(c.Schedule),
			formatExam(c.Exam),
		})
	}
	t.Render()
}
