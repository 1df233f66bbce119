// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// dateInputLayouts are accepted by NormalizeDate. Day-first layouts match
// how school registers write dates of birth.
var dateInputLayouts = []string{DateLayout, "02-01-2006", "02/01/2006", "2/1/2006", "02.01.2006"}

// NormalizeDate parses s in any accepted layout and returns it as DateLayout.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q, want YYYY-MM-DD", s)
}

// SubjectMark is one subject line on a marksheet.
type SubjectMark struct {
	Name     string  `json:"name" yaml:"name"`
	Obtained float64 `json:"obtained" yaml:"obtained"`
	Max      float64 `json:"max" yaml:"max"`
}

// Result is a student's marksheet for one exam in one academic year.
// (GRNumber, Exam, AcademicYear) is unique.
type Result struct {
	ID            string        `json:"id" yaml:"id" db:"id"`
	GRNumber      string        `json:"gr_number" yaml:"gr_number" db:"gr_number"`
	DateOfBirth   string        `json:"date_of_birth" yaml:"date_of_birth" db:"date_of_birth"`
	StudentName   string        `json:"student_name" yaml:"student_name" db:"student_name"`
	Standard      string        `json:"standard" yaml:"standard" db:"standard"`
	Division      string        `json:"division,omitempty" yaml:"division,omitempty" db:"division"`
	Exam          string        `json:"exam" yaml:"exam" db:"exam"`
	AcademicYear  string        `json:"academic_year" yaml:"academic_year" db:"academic_year"`
	Subjects      []SubjectMark `json:"subjects" yaml:"subjects" db:"-"`
	TotalObtained float64       `json:"total_obtained" yaml:"total_obtained" db:"total_obtained"`
	TotalMax      float64       `json:"total_max" yaml:"total_max" db:"total_max"`
	Percentage    float64       `json:"percentage" yaml:"percentage" db:"percentage"`
	Grade         string        `json:"grade" yaml:"grade" db:"grade"`
	Pass          bool          `json:"pass" yaml:"pass" db:"pass"`
	Rank          int           `json:"rank,omitempty" yaml:"rank,omitempty" db:"rank"`
	UploadedBy    string        `json:"uploaded_by,omitempty" yaml:"uploaded_by,omitempty" db:"uploaded_by"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at" db:"updated_at"`
}

// NormalizeGR canonicalizes a GR number for comparisons and storage.
func NormalizeGR(gr string) string {
	return strings.ToUpper(strings.TrimSpace(gr))
}

// NormalizeExam canonicalizes an exam name so "final", " FINAL " and
// "Final" are one exam. Words are title-cased; words containing digits,
// such as "FA1", are upper-cased.
func NormalizeExam(exam string) string {
	words := strings.Fields(exam)
	for i, w := range words {
		if strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			words[i] = strings.ToUpper(w)
			continue
		}
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// ClassKey groups results that are ranked together.
type ClassKey struct {
	Standard     string
	Exam         string
	AcademicYear string
}

// Class returns the ranking group of r.
func (r *Result) Class() ClassKey {
	return ClassKey{Standard: r.Standard, Exam: r.Exam, AcademicYear: r.AcademicYear}
}

// ResultQuery selects results for lookup or listing. Empty fields match anything.
type ResultQuery struct {
	GRNumber     string
	DateOfBirth  string
	Standard     string
	Exam         string
	AcademicYear string
	Limit        int
}
