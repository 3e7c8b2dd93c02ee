package lesson

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/muziki/core"
)

var (
	endAfterStartTag  = "endafterstart"
	endAfterStartText = "end time must be after start time"
)

func init() {
	core.Validate.RegisterStructValidation(lessonStructValidation, NewLesson{})
	core.Validate.RegisterStructValidation(lessonStructValidation, UpdateLesson{})
	core.RegisterCustomTranslation(endAfterStartTag, endAfterStartText)
}

// lessonStructValidation rejects lessons whose end time is not strictly
// after their start time.
func lessonStructValidation(sl validator.StructLevel) {
	switch les := sl.Current().Interface().(type) {
	case NewLesson:
		if !les.EndTime.After(les.StartTime) {
			sl.ReportError(les.EndTime, "end_time", "EndTime", endAfterStartTag, "")
		}
	case UpdateLesson:
		if !les.EndTime.After(les.StartTime) {
			sl.ReportError(les.EndTime, "end_time", "EndTime", endAfterStartTag, "")
		}
	}
}
