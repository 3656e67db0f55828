// Package table reshapes a forecast-by-lead metric series into the results
// table the dashboard renders: rounded values, per-cell skill colors against
// a baseline forecast, and display names.
package table

import (
	"encoding/json"
	"fmt"

	"evalmap/internal/types"
)

// requiredParams lists the panel parameters in the order they are checked.
var requiredParams = []string{
	"title",
	"units",
	"columnwidth",
	"enable_maximize",
	"enable_links",
	"time_grouping",
	"bias_colormap",
	"skill_score_range",
	"divider_column",
}

// Params configures one results table panel, e.g. weekly precipitation.
type Params struct {
	Title           string     `json:"title"`
	Units           string     `json:"units"`
	ColumnWidth     []float64  `json:"columnwidth"`
	EnableMaximize  bool       `json:"enable_maximize"`
	EnableLinks     bool       `json:"enable_links"`
	TimeGrouping    string     `json:"time_grouping"`
	BiasColormap    string     `json:"bias_colormap"`
	SkillScoreRange [2]float64 `json:"skill_score_range"`
	DividerColumn   int        `json:"divider_column"`
}

// ValidateParams returns a validation error naming the first required
// parameter missing from raw.
func ValidateParams(raw map[string]json.RawMessage) error {
	for _, name := range requiredParams {
		if _, ok := raw[name]; !ok {
			return types.NewAppErrorWithDetails(
				types.ErrCodeValidationMissingField,
				fmt.Sprintf("missing required parameter: %s", name),
				nil,
				map[string]any{"parameter": name},
			)
		}
	}
	return nil
}

// DecodeParams validates and decodes a raw params object.
func DecodeParams(data json.RawMessage) (Params, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Params{}, types.NewAppError(types.ErrCodeValidationInvalidPanel, "params must be a JSON object", err)
	}
	if err := ValidateParams(raw); err != nil {
		return Params{}, err
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return Params{}, types.NewAppError(types.ErrCodeValidationInvalidPanel, "malformed table params", err)
	}
	return p, nil
}
