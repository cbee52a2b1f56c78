package focus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultDBDir is where macOS keeps the Focus database. Reading it requires
// Full Disk Access for the hosting process.
const DefaultDBDir = "~/Library/DoNotDisturb/DB"

const (
	assertionsFile = "Assertions.json"
	modeConfigFile = "ModeConfigurations.json"

	// enabledSetting value of a schedule trigger that is switched on.
	triggerEnabled = 2
)

type assertions struct {
	Data []struct {
		StoreAssertionRecords []struct {
			AssertionDetails struct {
				ModeIdentifier string `json:"assertionDetailsModeIdentifier"`
			} `json:"assertionDetails"`
		} `json:"storeAssertionRecords"`
	} `json:"data"`
}

type modeConfigurations struct {
	Data []struct {
		ModeConfigurations map[string]modeConfiguration `json:"modeConfigurations"`
	} `json:"data"`
}

type modeConfiguration struct {
	Mode struct {
		Name string `json:"name"`
	} `json:"mode"`
	Triggers struct {
		Triggers []scheduleTrigger `json:"triggers"`
	} `json:"triggers"`
}

type scheduleTrigger struct {
	EnabledSetting int `json:"enabledSetting"`
	StartHour      int `json:"timePeriodStartTimeHour"`
	StartMinute    int `json:"timePeriodStartTimeMinute"`
	EndHour        int `json:"timePeriodEndTimeHour"`
	EndMinute      int `json:"timePeriodEndTimeMinute"`
}

// active reports whether the schedule covers the given minute of the day.
func (t scheduleTrigger) active(minute int) bool {
	if t.EnabledSetting != triggerEnabled {
		return false
	}
	start := t.StartHour*60 + t.StartMinute
	end := t.EndHour*60 + t.EndMinute
	switch {
	case start < end:
		return minute >= start && minute < end
	case start > end:
		return minute >= start || minute < end
	default:
		return false
	}
}

// DNDReader reads the macOS Focus database. A manually enabled mode wins over
// scheduled ones.
type DNDReader struct {
	dir     string
	timeout time.Duration
	now     func() time.Time
}

func NewDNDReader(dir string, timeout time.Duration) *DNDReader {
	return &DNDReader{
		dir:     dir,
		timeout: timeout,
		now:     time.Now,
	}
}

func (r *DNDReader) CurrentMode(ctx context.Context) (Mode, error) {
	return readBounded(ctx, r.timeout, func(context.Context) (Mode, error) {
		return r.read()
	})
}

func (r *DNDReader) read() (Mode, error) {
	var cfg modeConfigurations
	if err := readJSON(filepath.Join(r.dir, modeConfigFile), &cfg); err != nil {
		return NoFocus, err
	}
	if len(cfg.Data) == 0 {
		return NoFocus, errors.New("mode configurations: no data")
	}
	modes := cfg.Data[0].ModeConfigurations

	var asserted assertions
	if err := readJSON(filepath.Join(r.dir, assertionsFile), &asserted); err != nil {
		return NoFocus, err
	}
	if len(asserted.Data) == 0 {
		return NoFocus, errors.New("assertions: no data")
	}

	if records := asserted.Data[0].StoreAssertionRecords; len(records) > 0 {
		id := records[0].AssertionDetails.ModeIdentifier
		mc, ok := modes[id]
		if !ok {
			return NoFocus, fmt.Errorf("asserted mode %q has no configuration", id)
		}
		return Mode(mc.Mode.Name), nil
	}

	return scheduledMode(modes, r.now()), nil
}

func scheduledMode(modes map[string]modeConfiguration, now time.Time) Mode {
	ids := make([]string, 0, len(modes))
	for id := range modes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	minute := now.Hour()*60 + now.Minute()
	mode := NoFocus
	for _, id := range ids {
		mc := modes[id]
		if len(mc.Triggers.Triggers) == 0 {
			continue
		}
		if mc.Triggers.Triggers[0].active(minute) {
			mode = Mode(mc.Mode.Name)
		}
	}
	return mode
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
