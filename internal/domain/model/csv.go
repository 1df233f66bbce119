package model

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCSV is returned when a results sheet cannot be parsed.
var ErrInvalidCSV = errors.New("invalid results csv")

// ResultColumns are the fixed leading columns of a results sheet. Every
// column after them names a subject as "Name/Max".
var ResultColumns = []string{"gr_number", "date_of_birth", "student_name", "standard", "division", "exam", "academic_year"}

type subjectColumn struct {
	name string
	max  float64
}

// ReadResultsCSV parses a results sheet. An empty subject cell means the
// student did not take that subject. Grading and field validation are left
// to the import pipeline; this only rejects malformed structure and
// non-numeric marks, naming the line.
func ReadResultsCSV(r io.Reader) ([]Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrInvalidCSV, err)
	}
	subjects, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var out []Result
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
		}
		line, _ := cr.FieldPos(0)
		if blank(rec) {
			continue
		}
		res := Result{
			GRNumber:     rec[0],
			DateOfBirth:  rec[1],
			StudentName:  rec[2],
			Standard:     rec[3],
			Division:     rec[4],
			Exam:         rec[5],
			AcademicYear: rec[6],
		}
		for i, col := range subjects {
			cell := strings.TrimSpace(rec[len(ResultColumns)+i])
			if cell == "" {
				continue
			}
			obtained, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(obtained) || math.IsInf(obtained, 0) {
				return nil, fmt.Errorf("%w: line %d: %s: %q is not a number", ErrInvalidCSV, line, col.name, cell)
			}
			res.Subjects = append(res.Subjects, SubjectMark{Name: col.name, Obtained: obtained, Max: col.max})
		}
		out = append(out, res)
	}
	return out, nil
}

func parseHeader(header []string) ([]subjectColumn, error) {
	if len(header) <= len(ResultColumns) {
		return nil, fmt.Errorf("%w: header needs %s and at least one Subject/Max column", ErrInvalidCSV, strings.Join(ResultColumns, ","))
	}
	for i, want := range ResultColumns {
		got := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
		if got != want {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrInvalidCSV, i+1, header[i], want)
		}
	}
	cols := make([]subjectColumn, 0, len(header)-len(ResultColumns))
	for _, h := range header[len(ResultColumns):] {
		name, maxStr, ok := strings.Cut(h, "/")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: subject column %q, want Name/Max", ErrInvalidCSV, h)
		}
		maxMarks, err := strconv.ParseFloat(strings.TrimSpace(maxStr), 64)
		if err != nil || maxMarks <= 0 || math.IsNaN(maxMarks) || math.IsInf(maxMarks, 0) {
			return nil, fmt.Errorf("%w: subject column %q has no positive max", ErrInvalidCSV, h)
		}
		cols = append(cols, subjectColumn{name: name, max: maxMarks})
	}
	return cols, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// WriteResultsCSV writes rs as a results sheet. Subject columns are the
// union of subjects in first-seen order; the max of the first occurrence
// names the column.
func WriteResultsCSV(w io.Writer, rs []Result) error {
	var cols []subjectColumn
	index := make(map[string]int)
	for i := range rs {
		for _, s := range rs[i].Subjects {
			key := strings.ToLower(s.Name)
			if _, ok := index[key]; !ok {
				index[key] = len(cols)
				cols = append(cols, subjectColumn{name: s.Name, max: s.Max})
			}
		}
	}

	cw := csv.NewWriter(w)
	header := append([]string(nil), ResultColumns...)
	for _, c := range cols {
		header = append(header, c.name+"/"+strconv.FormatFloat(c.max, 'f', -1, 64))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range rs {
		r := &rs[i]
		rec := make([]string, len(header))
		copy(rec, []string{r.GRNumber, r.DateOfBirth, r.StudentName, r.Standard, r.Division, r.Exam, r.AcademicYear})
		for _, s := range r.Subjects {
			rec[len(ResultColumns)+index[strings.ToLower(s.Name)]] = strconv.FormatFloat(s.Obtained, 'f', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
