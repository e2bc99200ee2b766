package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// KnownPredictorModels lists the predictor names accepted by Validate.
// It mirrors prediction.Models without importing the prediction package.
var KnownPredictorModels = []string{"constant_velocity", "linear_regression"}

// TuningConfig represents the NCV handling parameters of the collision
// checker. Every field is optional; the Get* methods supply defaults for
// anything the file leaves out, so partial configs are safe.
type TuningConfig struct {
	// Prediction
	ObjectMotionPredictorModel    *string  `json:"object_motion_predictor_model,omitempty" yaml:"object_motion_predictor_model,omitempty"`
	MaxObjectHistoricalDataAgeMs  *int64   `json:"max_object_historical_data_age_ms,omitempty" yaml:"max_object_historical_data_age_ms,omitempty"`
	DistanceStep                  *float64 `json:"distance_step,omitempty" yaml:"distance_step,omitempty"`
	TimeDuration                  *float64 `json:"time_duration,omitempty" yaml:"time_duration,omitempty"`
	CollapseObjectIDs             *bool    `json:"collapse_object_ids,omitempty" yaml:"collapse_object_ids,omitempty"`
	IncludeAdjacentSecondaryLanes *bool    `json:"include_adjacent_secondary_lanes,omitempty" yaml:"include_adjacent_secondary_lanes,omitempty"`

	// Replanning
	ReplanPeriod *float64 `json:"replan_period,omitempty" yaml:"replan_period,omitempty"` // seconds

	// Margins
	DowntrackBuffer  *float64 `json:"downtrack_buffer,omitempty" yaml:"downtrack_buffer,omitempty"`
	CrosstrackBuffer *float64 `json:"crosstrack_buffer,omitempty" yaml:"crosstrack_buffer,omitempty"`
	VehicleLength    *float64 `json:"vehicle_length,omitempty" yaml:"vehicle_length,omitempty"`
	VehicleWidth     *float64 `json:"vehicle_width,omitempty" yaml:"vehicle_width,omitempty"`
	TimeMargin       *float64 `json:"time_margin,omitempty" yaml:"time_margin,omitempty"`

	// Conflict predicate biases
	LongitudinalBias *float64 `json:"longitudinal_bias,omitempty" yaml:"longitudinal_bias,omitempty"`
	LateralBias      *float64 `json:"lateral_bias,omitempty" yaml:"lateral_bias,omitempty"`
	TemporalBias     *float64 `json:"temporal_bias,omitempty" yaml:"temporal_bias,omitempty"`

	// Spatial index cells
	CellDowntrackSize  *float64 `json:"cell_downtrack_size,omitempty" yaml:"cell_downtrack_size,omitempty"`
	CellCrosstrackSize *float64 `json:"cell_crosstrack_size,omitempty" yaml:"cell_crosstrack_size,omitempty"`
	CellTimeSize       *float64 `json:"cell_time_size,omitempty" yaml:"cell_time_size,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under the
// max file size. Fields omitted from the file retain their default values.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field and reports all violations together.
func (c *TuningConfig) Validate() error {
	var errs error

	if c.ObjectMotionPredictorModel != nil && !slices.Contains(KnownPredictorModels, *c.ObjectMotionPredictorModel) {
		errs = multierr.Append(errs, fmt.Errorf("object_motion_predictor_model %q is not one of %v", *c.ObjectMotionPredictorModel, KnownPredictorModels))
	}
	if c.MaxObjectHistoricalDataAgeMs != nil && *c.MaxObjectHistoricalDataAgeMs < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_object_historical_data_age_ms must be non-negative, got %d", *c.MaxObjectHistoricalDataAgeMs))
	}

	positive := []struct {
		name string
		v    *float64
	}{
		{"distance_step", c.DistanceStep},
		{"time_duration", c.TimeDuration},
		{"replan_period", c.ReplanPeriod},
		{"cell_downtrack_size", c.CellDowntrackSize},
		{"cell_crosstrack_size", c.CellCrosstrackSize},
		{"cell_time_size", c.CellTimeSize},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive, got %f", p.name, *p.v))
		}
	}

	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"downtrack_buffer", c.DowntrackBuffer},
		{"crosstrack_buffer", c.CrosstrackBuffer},
		{"vehicle_length", c.VehicleLength},
		{"vehicle_width", c.VehicleWidth},
		{"time_margin", c.TimeMargin},
	}
	for _, p := range nonNegative {
		if p.v != nil && *p.v < 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be non-negative, got %f", p.name, *p.v))
		}
	}

	return errs
}

// GetObjectMotionPredictorModel returns the predictor model name or the default.
func (c *TuningConfig) GetObjectMotionPredictorModel() string {
	if c.ObjectMotionPredictorModel == nil {
		return "linear_regression"
	}
	return *c.ObjectMotionPredictorModel
}

// GetMaxHistoricalDataAge returns the history retention window.
func (c *TuningConfig) GetMaxHistoricalDataAge() time.Duration {
	if c.MaxObjectHistoricalDataAgeMs == nil {
		return 3000 * time.Millisecond
	}
	return time.Duration(*c.MaxObjectHistoricalDataAgeMs) * time.Millisecond
}

// GetDistanceStep returns the path sampling resolution in metres.
func (c *TuningConfig) GetDistanceStep() float64 {
	if c.DistanceStep == nil {
		return 2.0
	}
	return *c.DistanceStep
}

// GetTimeDuration returns the prediction horizon in seconds.
func (c *TuningConfig) GetTimeDuration() float64 {
	if c.TimeDuration == nil {
		return 10.0
	}
	return *c.TimeDuration
}

// GetCollapseObjectIDs returns whether all tracked objects share one identity.
func (c *TuningConfig) GetCollapseObjectIDs() bool {
	if c.CollapseObjectIDs == nil {
		return true // sensor fusion ids are not yet stable enough to track separately
	}
	return *c.CollapseObjectIDs
}

// GetIncludeAdjacentSecondaryLanes returns whether objects straddling into the
// host lane from a neighbouring lane are tracked.
func (c *TuningConfig) GetIncludeAdjacentSecondaryLanes() bool {
	if c.IncludeAdjacentSecondaryLanes == nil {
		return false
	}
	return *c.IncludeAdjacentSecondaryLanes
}

// GetReplanPeriod returns the NCV replan period, truncated to whole milliseconds.
func (c *TuningConfig) GetReplanPeriod() time.Duration {
	seconds := 5.0
	if c.ReplanPeriod != nil {
		seconds = *c.ReplanPeriod
	}
	return time.Duration(int64(seconds*1000.0)) * time.Millisecond
}

// GetDowntrackBuffer returns the downtrack_buffer value or the default.
func (c *TuningConfig) GetDowntrackBuffer() float64 {
	if c.DowntrackBuffer == nil {
		return 2.0
	}
	return *c.DowntrackBuffer
}

// GetCrosstrackBuffer returns the crosstrack_buffer value or the default.
func (c *TuningConfig) GetCrosstrackBuffer() float64 {
	if c.CrosstrackBuffer == nil {
		return 0.5
	}
	return *c.CrosstrackBuffer
}

// GetVehicleLength returns the vehicle_length value or the default.
func (c *TuningConfig) GetVehicleLength() float64 {
	if c.VehicleLength == nil {
		return 5.0
	}
	return *c.VehicleLength
}

// GetVehicleWidth returns the vehicle_width value or the default.
func (c *TuningConfig) GetVehicleWidth() float64 {
	if c.VehicleWidth == nil {
		return 2.0
	}
	return *c.VehicleWidth
}

// GetTimeMargin returns the time_margin value or the default.
func (c *TuningConfig) GetTimeMargin() float64 {
	if c.TimeMargin == nil {
		return 0.15
	}
	return *c.TimeMargin
}

// GetLongitudinalBias returns the longitudinal_bias value or the default.
func (c *TuningConfig) GetLongitudinalBias() float64 {
	if c.LongitudinalBias == nil {
		return 0
	}
	return *c.LongitudinalBias
}

// GetLateralBias returns the lateral_bias value or the default.
func (c *TuningConfig) GetLateralBias() float64 {
	if c.LateralBias == nil {
		return 0
	}
	return *c.LateralBias
}

// GetTemporalBias returns the temporal_bias value or the default.
func (c *TuningConfig) GetTemporalBias() float64 {
	if c.TemporalBias == nil {
		return 0
	}
	return *c.TemporalBias
}

// GetCellDowntrackSize returns the cell_downtrack_size value or the default.
func (c *TuningConfig) GetCellDowntrackSize() float64 {
	if c.CellDowntrackSize == nil {
		return 4.0
	}
	return *c.CellDowntrackSize
}

// GetCellCrosstrackSize returns the cell_crosstrack_size value or the default.
func (c *TuningConfig) GetCellCrosstrackSize() float64 {
	if c.CellCrosstrackSize == nil {
		return 4.0
	}
	return *c.CellCrosstrackSize
}

// GetCellTimeSize returns the cell_time_size value or the default.
func (c *TuningConfig) GetCellTimeSize() float64 {
	if c.CellTimeSize == nil {
		return 0.5
	}
	return *c.CellTimeSize
}
