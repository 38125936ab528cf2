package catalog_test

import (
	"testing"

	"github.com/okian/starkpi/internal/domain/catalog"
	model "github.com/okian/starkpi/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestClassify(t *testing.T) {
	Convey("Given the fixed event-type lookup", t, func() {
		Convey("When classifying funnel events", func() {
			Convey("Then each stage sets exactly its flag", func() {
				class, f, known := catalog.Classify(catalog.EventFileUpload)
				So(known, ShouldBeTrue)
				So(class, ShouldEqual, model.ClassUpload)
				So(f, ShouldResemble, catalog.Flags{Upload: true})

				_, f, _ = catalog.Classify(catalog.EventProcessing)
				So(f, ShouldResemble, catalog.Flags{Processing: true})

				_, f, _ = catalog.Classify(catalog.EventFileDownloaded)
				So(f, ShouldResemble, catalog.Flags{Download: true})

				_, f, _ = catalog.Classify(catalog.EventError)
				So(f, ShouldResemble, catalog.Flags{Error: true})
			})
		})

		Convey("When classifying known flagless events", func() {
			class, f, known := catalog.Classify(catalog.EventSessionEnd)

			Convey("Then they are known but carry no flags", func() {
				So(known, ShouldBeTrue)
				So(class, ShouldEqual, model.ClassSessionEnd)
				So(f, ShouldResemble, catalog.Flags{})
			})
		})

		Convey("When classifying an unknown event type", func() {
			class, f, known := catalog.Classify("button_clicked")
			et, _ := catalog.LookupEventType("button_clicked")

			Convey("Then it is class other with category Other", func() {
				So(known, ShouldBeFalse)
				So(class, ShouldEqual, model.ClassOther)
				So(f, ShouldResemble, catalog.Flags{})
				So(et.Category, ShouldEqual, catalog.CategoryOther)
				So(et.DisplayName, ShouldEqual, "Button Clicked")
			})
		})
	})
}

func TestToolAttributes(t *testing.T) {
	Convey("Given the tool catalog", t, func() {
		Convey("When the tool is catalogued", func() {
			attrs := catalog.ToolAttributes("page_remover", "pdf")

			Convey("Then its metadata is used", func() {
				So(attrs["tool_display_name"], ShouldEqual, "Page Remover")
				So(attrs["icon_name"], ShouldEqual, "delete")
				So(attrs["sort_order"], ShouldEqual, int64(6))
				So(attrs["tool_category"], ShouldEqual, "pdf")
			})
		})

		Convey("When the tool is unknown", func() {
			attrs := catalog.ToolAttributes("merge-pdf", "")

			Convey("Then defaults are used", func() {
				So(attrs["tool_display_name"], ShouldEqual, "Merge Pdf")
				So(attrs["icon_name"], ShouldEqual, "tool")
				So(attrs["sort_order"], ShouldEqual, int64(50))
				So(attrs["tool_description"], ShouldEqual, "merge-pdf tool")
			})
		})
	})
}
