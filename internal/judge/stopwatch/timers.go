package stopwatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is a named segment of one evaluation's time budget.
type Phase int

const (
	Run Phase = iota
	Compile
	Judge
)

// Phases lists every phase in reporting order.
var Phases = []Phase{Run, Compile, Judge}

func (p Phase) String() string {
	switch p {
	case Run:
		return "run"
	case Compile:
		return "compile"
	case Judge:
		return "judge"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Timers holds one duration per phase.
type Timers struct {
	Run     time.Duration `yaml:"run"`
	Compile time.Duration `yaml:"compile"`
	Judge   time.Duration `yaml:"judge"`
}

// Get returns the duration for p.
func (t Timers) Get(p Phase) time.Duration {
	switch p {
	case Run:
		return t.Run
	case Compile:
		return t.Compile
	case Judge:
		return t.Judge
	}
	return 0
}

// Set stores d for p.
func (t *Timers) Set(p Phase, d time.Duration) {
	switch p {
	case Run:
		t.Run = d
	case Compile:
		t.Compile = d
	case Judge:
		t.Judge = d
	}
}

// Plus adds two sets of timers phase by phase.
func (t Timers) Plus(o Timers) Timers {
	return Timers{
		Run:     t.Run + o.Run,
		Compile: t.Compile + o.Compile,
		Judge:   t.Judge + o.Judge,
	}
}

// Total sums all phases.
func (t Timers) Total() time.Duration {
	return t.Run + t.Compile + t.Judge
}

type timersJSON struct {
	Run     float64 `json:"run"`
	Compile float64 `json:"compile"`
	Judge   float64 `json:"judge"`
}

// MarshalJSON encodes each phase as fractional seconds.
func (t Timers) MarshalJSON() ([]byte, error) {
	return json.Marshal(timersJSON{
		Run:     t.Run.Seconds(),
		Compile: t.Compile.Seconds(),
		Judge:   t.Judge.Seconds(),
	})
}

func (t *Timers) UnmarshalJSON(data []byte) error {
	var raw timersJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Run = seconds(raw.Run)
	t.Compile = seconds(raw.Compile)
	t.Judge = seconds(raw.Judge)
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
