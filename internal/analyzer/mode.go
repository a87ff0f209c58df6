package analyzer

import "fmt"

// Mode is the execution mode that decides how task scheduler op times are
// matched with task descriptors.
type Mode int

const (
	// ModeInvalid is the initial mode, before any step data was seen.
	ModeInvalid Mode = iota
	// ModeStaticShape matches op times against iteration 0 only.
	ModeStaticShape
	// ModeStepTrace assigns op times to steps and matches against iteration 0
	// and the step index.
	ModeStepTrace
	// ModeSingleOp matches op times against iteration 0 with no step bookkeeping.
	ModeSingleOp
)

func (m Mode) String() string {
	switch m {
	case ModeInvalid:
		return "invalid"
	case ModeStaticShape:
		return "static_shape"
	case ModeStepTrace:
		return "step_trace"
	case ModeSingleOp:
		return "single_op"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses a configured mode name. The empty string selects
// ModeInvalid, leaving the mode to be inferred from the data.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "invalid", "auto":
		return ModeInvalid, nil
	case "static_shape":
		return ModeStaticShape, nil
	case "step_trace":
		return ModeStepTrace, nil
	case "single_op":
		return ModeSingleOp, nil
	}
	return ModeInvalid, fmt.Errorf("unknown profile mode %q", s)
}

// NextMode is the mode transition. Only ModeInvalid moves: step boundaries
// select step trace, op times without step boundaries select single op.
func NextMode(cur Mode, hasKeypoints, hasOpTimes bool) Mode {
	if cur != ModeInvalid {
		return cur
	}
	switch {
	case hasKeypoints:
		return ModeStepTrace
	case hasOpTimes:
		return ModeSingleOp
	}
	return ModeInvalid
}

// Effective is the mode used for matching: ModeInvalid behaves as static shape.
func (m Mode) Effective() Mode {
	if m == ModeInvalid {
		return ModeStaticShape
	}
	return m
}
