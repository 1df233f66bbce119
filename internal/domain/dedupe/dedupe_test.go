package dedupe_test

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/okian/resultportal/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))

		Convey("When a key is recorded twice", func() {
			_, seen1 := d.SeenOrRecord(ctx, "batch-1", "job-1")
			prev, seen2 := d.SeenOrRecord(ctx, "batch-1", "job-2")

			Convey("Then the second call returns the first value", func() {
				So(seen1, ShouldBeFalse)
				So(seen2, ShouldBeTrue)
				So(prev, ShouldEqual, "job-1")
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the bound is exceeded", func() {
			d.SeenOrRecord(ctx, "a", "1")
			d.SeenOrRecord(ctx, "b", "2")
			d.SeenOrRecord(ctx, "c", "3")

			Convey("Then the oldest key is evicted", func() {
				So(d.Size(), ShouldEqual, 2)
				_, seen := d.SeenOrRecord(ctx, "a", "again")
				So(seen, ShouldBeFalse)
			})
		})

		Convey("When a key is forgotten", func() {
			d.SeenOrRecord(ctx, "a", "1")
			d.Forget(ctx, "a")
			d.Forget(ctx, "missing")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				_, seen := d.SeenOrRecord(ctx, "a", "2")
				So(seen, ShouldBeFalse)
			})
		})
	})

	Convey("Given an unbounded deduper under concurrent use", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
		var wg sync.WaitGroup
		var mu sync.Mutex
		firsts := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, seen := d.SeenOrRecord(ctx, "shared", strconv.Itoa(i)); !seen {
					mu.Lock()
					firsts++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		So(firsts, ShouldEqual, 1)
		So(d.Size(), ShouldEqual, 1)
	})
}
