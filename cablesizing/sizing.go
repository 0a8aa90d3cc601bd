// Package cablesizing sizes motor feeder cables against two constraints:
// conductor ampacity and three-phase voltage drop.
//
// Values follow the Canadian Electrical Code tables for copper conductors.
// Everything here is pure computation; there is no I/O.
package cablesizing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OverLimit is returned by SelectSize when no standard conductor carries the load.
const OverLimit = "OVER_LIMIT"

// DefaultMaxVoltageDropPercent is the voltage drop ceiling used when none is configured.
const DefaultMaxVoltageDropPercent = 3.0

// motorContinuousFactor is the CEC 28-106 / NEC continuous duty factor for motor feeders.
const motorContinuousFactor = 1.25

// extrapolationFactor approximates FLC in amps per HP beyond the largest tabulated motor.
const extrapolationFactor = 0.96

// ErrOverLimit is returned by SizeCable when the load exceeds the largest conductor.
var ErrOverLimit = errors.New("load too high for standard cables")

// LoadType selects the ampacity multiplier.
type LoadType string

const (
	LoadMotor LoadType = "MOTOR"
	LoadOther LoadType = "OTHER"
)

// Result is the outcome of a full sizing calculation.
type Result struct {
	Size               string  `json:"cable_size"`
	FLC                float64 `json:"flc"`
	MinAmpacity        float64 `json:"min_ampacity"`
	CableAmpacity      float64 `json:"cable_ampacity"`
	VoltageDropPercent float64 `json:"voltage_drop_percent"`
	VoltageDropVolts   float64 `json:"voltage_drop_volts"`
	IsUpsized          bool    `json:"is_upsized"`
}

// Properties flattens the result into entity properties.
func (r Result) Properties() map[string]any {
	return map[string]any{
		"conductor_size":       r.Size,
		"flc":                  r.FLC,
		"min_ampacity":         r.MinAmpacity,
		"cable_ampacity":       r.CableAmpacity,
		"voltage_drop_percent": r.VoltageDropPercent,
		"voltage_drop_volts":   r.VoltageDropVolts,
		"is_upsized":           r.IsUpsized,
	}
}

// FullLoadCurrent looks up the FLC of the smallest standard motor at least as
// large as hp. Motors larger than the table are extrapolated linearly.
// The table is for the 575V/600V class; voltageClass is accepted for callers
// that carry it but does not change the lookup.
func FullLoadCurrent(hp float64, voltageClass string) float64 {
	_ = voltageClass
	for _, row := range motorFLC {
		if row.HP >= hp {
			return row.Amps
		}
	}
	return hp * extrapolationFactor
}

// MinimumAmpacity returns the conductor ampacity a load requires.
func MinimumAmpacity(flc float64, load LoadType) float64 {
	if load == LoadMotor {
		return flc * motorContinuousFactor
	}
	return flc
}

// SelectSize returns the smallest conductor whose ampacity covers minAmpacity,
// or OverLimit.
func SelectSize(minAmpacity float64) string {
	for _, c := range conductors {
		if c.Ampacity >= minAmpacity {
			return c.Size
		}
	}
	return OverLimit
}

// VoltageDropPercent computes the three-phase drop for a run, rounded to two
// decimals. Unknown sizes report zero drop.
func VoltageDropPercent(lengthMeters, current float64, size string, voltage float64) float64 {
	z, ok := Impedance(size)
	if !ok || voltage == 0 {
		return 0
	}
	vd := math.Sqrt(3) * current * z * lengthMeters / 1000
	return round2(vd / voltage * 100)
}

// ParseVoltage converts a voltage class such as "600V" to volts. An empty
// class means 600V.
func ParseVoltage(voltageClass string) (float64, error) {
	s := strings.TrimSpace(voltageClass)
	if s == "" {
		return 600, nil
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "V"), "v")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid voltage class %q", voltageClass)
	}
	return v, nil
}

// SizeCable sizes a motor feeder. The ampacity-selected conductor is walked up
// the standard size list until the voltage drop is within maxVdPercent or the
// list is exhausted. A non-positive maxVdPercent uses the default ceiling.
func SizeCable(hp, lengthMeters float64, voltageClass string, maxVdPercent float64) (Result, error) {
	if maxVdPercent <= 0 {
		maxVdPercent = DefaultMaxVoltageDropPercent
	}
	voltage, err := ParseVoltage(voltageClass)
	if err != nil {
		return Result{}, err
	}

	flc := FullLoadCurrent(hp, voltageClass)
	minAmp := MinimumAmpacity(flc, LoadMotor)
	initial := SelectSize(minAmp)
	if initial == OverLimit {
		return Result{Size: OverLimit, FLC: flc, MinAmpacity: minAmp},
			fmt.Errorf("%w: requires %.2fA", ErrOverLimit, minAmp)
	}

	idx := sizeIndex(initial)
	vd := VoltageDropPercent(lengthMeters, flc, conductors[idx].Size, voltage)
	for vd > maxVdPercent && idx < len(conductors)-1 {
		idx++
		vd = VoltageDropPercent(lengthMeters, flc, conductors[idx].Size, voltage)
	}

	final := conductors[idx]
	return Result{
		Size:               final.Size,
		FLC:                flc,
		MinAmpacity:        minAmp,
		CableAmpacity:      final.Ampacity,
		VoltageDropPercent: vd,
		VoltageDropVolts:   vd / 100 * voltage,
		IsUpsized:          final.Size != initial,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
