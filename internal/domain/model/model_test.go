package model_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/resultportal/internal/domain/model"
)

func TestNormalizeDate(t *testing.T) {
	Convey("Given dates in register formats", t, func() {
		for in, want := range map[string]string{
			"2010-04-02":   "2010-04-02",
			" 02-04-2010 ": "2010-04-02",
			"02/04/2010":   "2010-04-02",
			"2/4/2010":     "2010-04-02",
			"02.04.2010":   "2010-04-02",
		} {
			got, err := model.NormalizeDate(in)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}

		for _, bad := range []string{"", "2010-13-01", "31/02/2010", "yesterday"} {
			_, err := model.NormalizeDate(bad)
			So(err, ShouldNotBeNil)
		}
	})
}

func TestResultHelpers(t *testing.T) {
	Convey("Given result helpers", t, func() {
		So(model.NormalizeGR("  gr-12a "), ShouldEqual, "GR-12A")
		for in, want := range map[string]string{
			"final":          "Final",
			" FINAL ":        "Final",
			"mid  term":      "Mid Term",
			"fa1":            "FA1",
			"Unit test sa2 ": "Unit Test SA2",
			"":               "",
		} {
			So(model.NormalizeExam(in), ShouldEqual, want)
		}

		r := &model.Result{Standard: "10", Exam: "Final", AcademicYear: "2025-26"}
		So(r.Class(), ShouldResemble, model.ClassKey{Standard: "10", Exam: "Final", AcademicYear: "2025-26"})

		So(model.ImportCompleted.Terminal(), ShouldBeTrue)
		So(model.ImportFailed.Terminal(), ShouldBeTrue)
		So(model.ImportQueued.Terminal(), ShouldBeFalse)
		So(model.ImportRunning.Terminal(), ShouldBeFalse)
	})
}

func TestResultsCSV(t *testing.T) {
	Convey("Given a results sheet", t, func() {
		sheet := "\ufeffGR_Number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/100,Science/100,Sanskrit/50\n" +
			"GR-1,02/04/2010,Asha Patel,10,A,Final,2025-26,91,88,\n" +
			",,,,,,,,,\n" +
			"GR-2,2010-05-06,Ravi Shah,10,B,Final,2025-26,45.5,60,40\n"

		Convey("When reading it", func() {
			rs, err := model.ReadResultsCSV(strings.NewReader(sheet))

			Convey("Then blank rows and empty subject cells are skipped", func() {
				So(err, ShouldBeNil)
				So(len(rs), ShouldEqual, 2)
				So(rs[0].GRNumber, ShouldEqual, "GR-1")
				So(rs[0].DateOfBirth, ShouldEqual, "02/04/2010")
				So(rs[0].Subjects, ShouldResemble, []model.SubjectMark{
					{Name: "Maths", Obtained: 91, Max: 100},
					{Name: "Science", Obtained: 88, Max: 100},
				})
				So(len(rs[1].Subjects), ShouldEqual, 3)
				So(rs[1].Subjects[0].Obtained, ShouldEqual, 45.5)
				So(rs[1].Subjects[2].Max, ShouldEqual, 50)
			})

			Convey("And writing them back reproduces the columns", func() {
				var buf bytes.Buffer
				So(model.WriteResultsCSV(&buf, rs), ShouldBeNil)
				again, err := model.ReadResultsCSV(&buf)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, rs)
			})
		})

		Convey("When the sheet is malformed", func() {
			bad := []string{
				"",
				"gr_number,date_of_birth\n",
				"gr_number,dob,student_name,standard,division,exam,academic_year,Maths/100\n",
				"gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths\n",
				"gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/0\n",
				"gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/100\nGR-1,2010-01-01,A,10,A,Final,2025-26,ninety\n",
				"gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/100\nGR-1,2010-01-01\n",
				"gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/Inf\nGR-1,2010-01-01,A,10,A,Final,2025-26,Inf\n",
				"gr_number,date_of_birth,student_name,standard,division,exam,academic_year,Maths/100\nGR-1,2010-01-01,A,10,A,Final,2025-26,NaN\n",
			}
			for _, s := range bad {
				_, err := model.ReadResultsCSV(strings.NewReader(s))
				So(errors.Is(err, model.ErrInvalidCSV), ShouldBeTrue)
			}
		})
	})
}
