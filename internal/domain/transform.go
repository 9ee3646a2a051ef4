package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TransformKind enumerates the column level operations a transform can apply.
type TransformKind string

const (
	TransformConcat     TransformKind = "concat"
	TransformTrimSpaces TransformKind = "trim_spaces"
	TransformToUpper    TransformKind = "to_upper"
	TransformToLower    TransformKind = "to_lower"
	TransformToTitle    TransformKind = "to_title"
	TransformCastNumber TransformKind = "cast_number"
	TransformCastDate   TransformKind = "cast_date"
)

// DefaultConcatSeparator joins concat inputs when no separator option is given.
const DefaultConcatSeparator = " "

var knownTransformKinds = map[TransformKind]struct{}{
	TransformConcat:     {},
	TransformTrimSpaces: {},
	TransformToUpper:    {},
	TransformToLower:    {},
	TransformToTitle:    {},
	TransformCastNumber: {},
	TransformCastDate:   {},
}

// Known reports whether the kind is one of the supported transform kinds.
func (k TransformKind) Known() bool {
	_, ok := knownTransformKinds[k]
	return ok
}

// TransformOptions carries free-form transform parameters.
type TransformOptions struct {
	Separator *string `json:"separator,omitempty" yaml:"separator,omitempty"`
	Locale    string  `json:"locale,omitempty" yaml:"locale,omitempty"`
	Format    string  `json:"format,omitempty" yaml:"format,omitempty"`
}

// ConcatSeparator returns the configured separator or the default single space.
func (o TransformOptions) ConcatSeparator() string {
	if o.Separator == nil {
		return DefaultConcatSeparator
	}
	return *o.Separator
}

// TransformSpec describes one column level transform in a preview pipeline.
type TransformSpec struct {
	ID           uuid.UUID        `json:"id" yaml:"id"`
	TargetColumn string           `json:"targetColumn" yaml:"targetColumn"`
	Kind         TransformKind    `json:"kind" yaml:"kind"`
	Inputs       []string         `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Options      TransformOptions `json:"options,omitempty" yaml:"options,omitempty"`
	Enabled      bool             `json:"enabled" yaml:"enabled"`
}

// NewTransformSpec builds an enabled transform with a fresh identifier.
func NewTransformSpec(targetColumn string, kind TransformKind, inputs ...string) TransformSpec {
	return TransformSpec{
		ID:           uuid.New(),
		TargetColumn: targetColumn,
		Kind:         kind,
		Inputs:       append([]string(nil), inputs...),
		Enabled:      true,
	}
}

// ErrInvalidTransform is returned when a transform spec breaks its invariants.
var ErrInvalidTransform = errors.New("invalid transform")

// Validate checks the structural invariants of the spec.
func (t TransformSpec) Validate() error {
	if strings.TrimSpace(t.TargetColumn) == "" {
		return fmt.Errorf("%w: targetColumn is required", ErrInvalidTransform)
	}
	if !t.Kind.Known() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransform, t.Kind)
	}
	if t.Kind == TransformConcat && len(t.Inputs) == 0 {
		return fmt.Errorf("%w: concat on %s requires at least one input", ErrInvalidTransform, t.TargetColumn)
	}
	return nil
}

// ValidateTransforms validates every spec and reports the first failure with its position.
func ValidateTransforms(specs []TransformSpec) error {
	for idx, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("transform %d: %w", idx, err)
		}
	}
	return nil
}

// EnabledFor returns the enabled transforms writing to the target column, in list order.
func EnabledFor(specs []TransformSpec, targetColumn string) []TransformSpec {
	var out []TransformSpec
	for _, spec := range specs {
		if !spec.Enabled || spec.TargetColumn != targetColumn {
			continue
		}
		out = append(out, spec)
	}
	return out
}

// TransformIssue records a value that strict mode refused to coerce.
type TransformIssue struct {
	Dataset  DatasetTag    `json:"dataset"`
	RowIndex int           `json:"rowIndex"`
	Column   string        `json:"column"`
	Kind     TransformKind `json:"kind"`
	Input    string        `json:"input"`
	Reason   string        `json:"reason"`
}
