package collision

import (
	"time"

	"github.com/banshee-data/ncvguard/internal/config"
)

// SharedObjectID is the identity every observation is re-keyed to while
// CollapseObjectIDs is set.
const SharedObjectID = 0

// Params holds the numeric configuration of a Checker.
type Params struct {
	PredictorModel       string
	MaxHistoricalDataAge time.Duration
	DistanceStep         float64       // m
	TimeDuration         float64       // s
	ReplanPeriod         time.Duration // NCV replan period

	DowntrackBuffer  float64 // m
	CrosstrackBuffer float64 // m
	VehicleLength    float64 // m
	VehicleWidth     float64 // m
	TimeMargin       float64 // s

	LongitudinalBias float64
	LateralBias      float64
	TemporalBias     float64

	CellDowntrackSize  float64 // m
	CellCrosstrackSize float64 // m
	CellTimeSize       float64 // s

	CollapseObjectIDs             bool
	IncludeAdjacentSecondaryLanes bool
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning derives checker parameters from a TuningConfig.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		PredictorModel:       cfg.GetObjectMotionPredictorModel(),
		MaxHistoricalDataAge: cfg.GetMaxHistoricalDataAge(),
		DistanceStep:         cfg.GetDistanceStep(),
		TimeDuration:         cfg.GetTimeDuration(),
		ReplanPeriod:         cfg.GetReplanPeriod(),

		DowntrackBuffer:  cfg.GetDowntrackBuffer(),
		CrosstrackBuffer: cfg.GetCrosstrackBuffer(),
		VehicleLength:    cfg.GetVehicleLength(),
		VehicleWidth:     cfg.GetVehicleWidth(),
		TimeMargin:       cfg.GetTimeMargin(),

		LongitudinalBias: cfg.GetLongitudinalBias(),
		LateralBias:      cfg.GetLateralBias(),
		TemporalBias:     cfg.GetTemporalBias(),

		CellDowntrackSize:  cfg.GetCellDowntrackSize(),
		CellCrosstrackSize: cfg.GetCellCrosstrackSize(),
		CellTimeSize:       cfg.GetCellTimeSize(),

		CollapseObjectIDs:             cfg.GetCollapseObjectIDs(),
		IncludeAdjacentSecondaryLanes: cfg.GetIncludeAdjacentSecondaryLanes(),
	}
}
