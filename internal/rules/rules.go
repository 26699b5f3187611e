// Package rules holds the game tuning values.
//
// Defaults reproduce the standard ruleset. A CUE file may override any
// subset; it is unified with an embedded schema that bounds each value, so a
// penalty above 100 or a threshold above one fails at load time with the
// file position of the offending field.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// Threshold is the share of decisive ballots (yes+no) a proposal needs.
// Inclusive thresholds pass at exactly Num/Den; exclusive ones need more.
type Threshold struct {
	Num       int  `json:"num"`
	Den       int  `json:"den"`
	Inclusive bool `json:"inclusive"`
}

// Met reports whether yes out of decisive ballots meets the threshold. No
// decisive ballots never meets it.
func (t Threshold) Met(yes, decisive int) bool {
	if decisive <= 0 {
		return false
	}
	lhs, rhs := yes*t.Den, t.Num*decisive
	if t.Inclusive {
		return lhs >= rhs
	}
	return lhs > rhs
}

func (t Threshold) String() string {
	op := ">"
	if t.Inclusive {
		op = ">="
	}
	return fmt.Sprintf("%s %d/%d", op, t.Num, t.Den)
}

type War struct {
	DeclareStabilityPenalty   int   `json:"declare_stability_penalty"`
	SurrenderStabilityPenalty int   `json:"surrender_stability_penalty"`
	MaxCycles                 int   `json:"max_cycles"`
	DeclarationCost           int64 `json:"declaration_cost"`
	MaxTargetCells            int   `json:"max_target_cells"`
}

type Thresholds struct {
	Constitution  Threshold `json:"constitution"`
	Supermajority Threshold `json:"supermajority"`
	Simple        Threshold `json:"simple"`
}

type Vote struct {
	VotingPeriod time.Duration `json:"-"`
	Thresholds   Thresholds    `json:"thresholds"`
}

// Weights are the ranking component weights.
type Weights struct {
	Population float64 `json:"population"`
	Economy    float64 `json:"economy"`
	Technology float64 `json:"technology"`
	Stability  float64 `json:"stability"`
	Expansion  float64 `json:"expansion"`
	Efficiency float64 `json:"efficiency"`
}

// Text bounds free-text fields, in runes after normalization.
type Text struct {
	TitleMax       int `json:"title_max"`
	DescriptionMax int `json:"description_max"`
	ReasonMax      int `json:"reason_max"`
}

// Rules is the complete tuning set.
type Rules struct {
	War     War     `json:"war"`
	Vote    Vote    `json:"vote"`
	Ranking Weights `json:"ranking"`
	Text    Text    `json:"text"`
}

// Default returns the standard ruleset.
func Default() Rules {
	return Rules{
		War: War{
			DeclareStabilityPenalty:   10,
			SurrenderStabilityPenalty: 25,
			MaxCycles:                 10,
			DeclarationCost:           0,
			MaxTargetCells:            64,
		},
		Vote: Vote{
			VotingPeriod: 72 * time.Hour,
			Thresholds: Thresholds{
				Constitution:  Threshold{Num: 2, Den: 3, Inclusive: true},
				Supermajority: Threshold{Num: 3, Den: 5, Inclusive: true},
				Simple:        Threshold{Num: 1, Den: 2, Inclusive: false},
			},
		},
		Ranking: Weights{
			Population: 0.25,
			Economy:    0.25,
			Technology: 0.20,
			Stability:  0.15,
			Expansion:  0.10,
			Efficiency: 0.05,
		},
		Text: Text{
			TitleMax:       120,
			DescriptionMax: 4000,
			ReasonMax:      500,
		},
	}
}

// LoadError reports an invalid rules file.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads a CUE rules file and applies it over the defaults.
func LoadFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(path, data)
}

// Parse applies CUE source over the defaults. filename is used in errors.
func Parse(filename string, src []byte) (Rules, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Rules{}, formatCUEError(err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Rules{}, formatCUEError(err)
	}

	v = schema.LookupPath(cue.ParsePath("#Rules")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Rules{}, formatCUEError(err)
	}

	r := Default()
	if err := v.Decode(&r); err != nil {
		return Rules{}, formatCUEError(err)
	}

	period := v.LookupPath(cue.ParsePath("vote.voting_period"))
	if period.Exists() {
		s, err := period.String()
		if err != nil {
			return Rules{}, formatCUEError(err)
		}
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return Rules{}, &LoadError{Field: "vote.voting_period", Message: fmt.Sprintf("invalid duration %q", s), Pos: period.Pos()}
		}
		r.Vote.VotingPeriod = d
	}
	return r, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
