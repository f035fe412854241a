package bootstrap

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/cic"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/panel"
	"github.com/derickschaefer/cicqte/internal/resample"
)

// Options configures one estimation run.
type Options struct {
	// Columns is recorded on the result; resolution happens in panel.FromFrame.
	Columns panel.Columns `json:"columns" validate:"-"`

	Probs       []float64     `json:"probs" validate:"required,min=1,dive,gt=0,lt=1"`
	NMin        int           `json:"n_min" validate:"min=1"`
	Mode        resample.Mode `json:"boot" validate:"oneof=none uniform weighted"`
	Reps        int           `json:"reps" validate:"min=1"`
	Rule        analyze.Rule  `json:"qtype" validate:"min=1,max=9"`
	EventStudy  bool          `json:"es"`
	Horizon     int           `json:"horizon" validate:"min=-1"`
	RoundDigits int           `json:"round" validate:"min=-1,max=15"`
	Reduced     bool          `json:"reduced"`
	Spill       bool          `json:"spill"`
	KeepSpill   bool          `json:"keep_spill"`
	SpillDir    string        `json:"spill_dir"`
	Parallelism int           `json:"cores" validate:"min=1"`
	Seed        uint64        `json:"seed"`
	Weighting   cic.Weighting `json:"weights"`
}

// DefaultProbs are the deciles 0.1 … 0.9.
func DefaultProbs() []float64 {
	return []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Probs:       DefaultProbs(),
		NMin:        5,
		Mode:        resample.ModeWeighted,
		Reps:        100,
		Rule:        analyze.RuleDefault,
		Horizon:     -1,
		RoundDigits: -1,
		Parallelism: runtime.NumCPU(),
		Seed:        1,
		Weighting:   cic.DefaultWeighting,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their option names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every option and returns a diag validation error
// describing all failures.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return diag.WrapValidation(err, "invalid options")
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, formatFieldError(fe))
		}
		return diag.WrapValidation(err, "invalid options: %s", strings.Join(msgs, "; "))
	}
	for i := 1; i < len(o.Probs); i++ {
		if o.Probs[i] <= o.Probs[i-1] {
			return diag.Validationf("invalid options: probs must be strictly increasing, got %v", o.Probs)
		}
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Options.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", field, fe.Param(), fe.Value())
	case "gt", "lt":
		return fmt.Sprintf("%s must lie in (0,1), got %v", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
