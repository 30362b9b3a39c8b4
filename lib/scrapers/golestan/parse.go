package golestan

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strconv"

	"entekhab-backend/lib/htmlutil"
	"entekhab-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

// Parity is the odd/even week designation of a recurring session.
type Parity string

const (
	ParityEvery Parity = ""
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
)

// Session is one recurring class meeting.
type Session struct {
	Day    string
	Start  string // HH:MM
	End    string // HH:MM
	Parity Parity
}

// ExamTime is the announced final exam slot.
type ExamTime struct {
	Date  string
	Start string
	End   string
}

// Course is one normalized offering row. Immutable once built; owned
// by the caller.
type Course struct {
	Code       string
	Name       string
	Credits    int
	Instructor string
	Schedule   []Session
	// Exam is nil while the exam slot is unannounced.
	Exam                 *ExamTime
	Location             string
	Capacity             string
	Gender               string
	EnrollmentConditions string
	Description          string
	Faculty              string
	Department           string
}

// ParseResult carries both representations the two payload shapes
// disagree on: the hierarchical faculty/department grouping of the
// report table, and the flat by-code map of the data blob.
type ParseResult struct {
	Courses   []Course
	ByFaculty map[string]map[string][]Course
	ByCode    map[string]Course
	// Skipped counts rows dropped for having too few fields. Malformed
	// rows never abort a parse.
	Skipped int
}

// Parse normalizes an exported payload. It understands both shapes the
// export sink produces: the rendered report table and the flat xml row
// blob.
func Parse(payload []byte) (ParseResult, error) {
	trimmed := bytes.TrimSpace(payload)
	if bytes.HasPrefix(trimmed, []byte("<rows")) {
		return parseBlob(trimmed)
	}
	return parseTable(payload)
}

// Minimum cells a row needs before positional mapping is meaningful.
const (
	minTableCells = 10
	minBlobAttrs  = 6
)

// Report table cell positions.
const (
	cellFaculty = iota
	cellDepartment
	cellCode
	cellName
	cellCredits
	cellCapacity
	cellGender
	cellInstructor
	cellSchedule
	cellExam
	cellConditions
	cellDescription
)

func parseTable(payload []byte) (ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return ParseResult{}, err
	}

	rows := doc.Find("table#ReportTable tr")
	if rows.Length() == 0 {
		rows = doc.Find("tr")
	}

	result := newParseResult()
	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("th").Length() > 0 {
			return
		}
		cells := htmlutil.CellTexts(row)
		if len(cells) == 0 {
			return
		}
		if len(cells) < minTableCells {
			result.Skipped++
			return
		}
		result.add(courseFromCells(cells))
	})

	return result, nil
}

func courseFromCells(cells []string) Course {
	get := func(i int) string {
		if i < len(cells) {
			return textutil.CollapseWhitespace(cells[i])
		}
		return ""
	}

	scheduleText, location := SplitLocation(get(cellSchedule))

	return Course{
		Faculty:              get(cellFaculty),
		Department:           get(cellDepartment),
		Code:                 textutil.FoldDigits(get(cellCode)),
		Name:                 get(cellName),
		Credits:              parseCredits(get(cellCredits)),
		Capacity:             textutil.FoldDigits(get(cellCapacity)),
		Gender:               get(cellGender),
		Instructor:           instructorOrPlaceholder(get(cellInstructor)),
		Schedule:             ParseSchedule(scheduleText),
		Exam:                 ParseExam(get(cellExam)),
		Location:             location,
		EnrollmentConditions: get(cellConditions),
		Description:          get(cellDescription),
	}
}

// Data blob attribute names, positional like the table cells but with
// no faculty/department hierarchy.
var blobAttrCells = map[string]int{
	"C1":  cellCode,
	"C2":  cellName,
	"C3":  cellCredits,
	"C4":  cellCapacity,
	"C5":  cellGender,
	"C6":  cellInstructor,
	"C7":  cellSchedule,
	"C8":  cellExam,
	"C9":  cellConditions,
	"C10": cellDescription,
}

type blobRow struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type blobDoc struct {
	XMLName xml.Name  `xml:"rows"`
	Rows    []blobRow `xml:"r"`
}

func parseBlob(payload []byte) (ParseResult, error) {
	var doc blobDoc
	err := xml.Unmarshal(payload, &doc)
	if err != nil {
		return ParseResult{}, err
	}

	result := newParseResult()
	for _, row := range doc.Rows {
		cells := make([]string, cellDescription+1)
		count := 0
		for _, attr := range row.Attrs {
			idx, known := blobAttrCells[attr.Name.Local]
			if !known {
				continue
			}
			cells[idx] = attr.Value
			count++
		}
		if count < minBlobAttrs {
			result.Skipped++
			continue
		}
		result.add(courseFromCells(cells))
	}

	return result, nil
}

func newParseResult() ParseResult {
	return ParseResult{
		ByFaculty: map[string]map[string][]Course{},
		ByCode:    map[string]Course{},
	}
}

func (r *ParseResult) add(course Course) {
	r.Courses = append(r.Courses, course)
	if course.Code != "" {
		r.ByCode[course.Code] = course
	}
	departments := r.ByFaculty[course.Faculty]
	if departments == nil {
		departments = map[string][]Course{}
		r.ByFaculty[course.Faculty] = departments
	}
	departments[course.Department] = append(departments[course.Department], course)
}

// the portal leaves the instructor cell empty when the department has
// not assigned one yet
const instructorPlaceholder = "اساتید گروه آموزشی"

func instructorOrPlaceholder(instructor string) string {
	if instructor == "" {
		return instructorPlaceholder
	}
	return instructor
}

func parseCredits(text string) int {
	n, err := strconv.Atoi(textutil.FoldDigits(text))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// day names ordered longest-first so the bare "شنبه" never clips a
// compound day
var sessionRegex = regexp.MustCompile(
	`(پنج شنبه|پنجشنبه|چهار شنبه|چهارشنبه|سه شنبه|سه‌شنبه|دو شنبه|دوشنبه|یک شنبه|یکشنبه|شنبه|جمعه)\s+(\d{1,2}:\d{2})\s*-\s*(\d{1,2}:\d{2})(?:\s*([فز]))?`)

// ParseSchedule tokenizes free-form schedule text into sessions. Text
// with no recognizable day/time pattern yields an empty schedule, not
// an error: plenty of offerings (thesis credit and the like)
// legitimately have none.
func ParseSchedule(text string) []Session {
	text = textutil.FoldDigits(textutil.NormalizeArabicLetters(text))

	var sessions []Session
	for _, m := range sessionRegex.FindAllStringSubmatch(text, -1) {
		parity := ParityEvery
		switch m[4] {
		case "ف":
			parity = ParityOdd
		case "ز":
			parity = ParityEven
		}
		sessions = append(sessions, Session{
			Day:    m[1],
			Start:  padTime(m[2]),
			End:    padTime(m[3]),
			Parity: parity,
		})
	}
	return sessions
}

var examRegex = regexp.MustCompile(
	`(\d{4}[./]\d{1,2}[./]\d{1,2}).*?(\d{1,2}:\d{2})\s*-\s*(\d{1,2}:\d{2})`)

// ParseExam matches the announced exam date and time range. No match
// means the exam is unannounced and the result is nil.
func ParseExam(text string) *ExamTime {
	text = textutil.FoldDigits(text)
	m := examRegex.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &ExamTime{
		Date:  m[1],
		Start: padTime(m[2]),
		End:   padTime(m[3]),
	}
}

var locationRegex = regexp.MustCompile(`(?:مکان|مكان)\s*:\s*(.+?)\s*$`)

// SplitLocation pulls a trailing location label out of schedule text
// so it doesn't confuse the session tokenizer.
func SplitLocation(text string) (schedule, location string) {
	m := locationRegex.FindStringSubmatchIndex(text)
	if m == nil {
		return text, ""
	}
	return textutil.CollapseWhitespace(text[:m[0]]), text[m[2]:m[3]]
}

func padTime(t string) string {
	if len(t) == 4 { // H:MM
		return "0" + t
	}
	return t
}
