package random

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// field is one label/value pair of a generated block.
type field struct {
	label string
	value string
}

// profile produces the fields of successive blocks of one device family.
type profile interface {
	next(src randomSource, elapsed time.Duration) ([]field, error)
	// version is the firmware word reported by ping and version replies.
	version() uint16
	// product is the PID word reported by product id replies.
	product() uint16
}

func newProfile(name string, src randomSource) (profile, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mppt":
		return newMPPTProfile(src)
	case "bmv":
		return newBMVProfile(src)
	default:
		return nil, fmt.Errorf("unknown simulate profile %q", name)
	}
}

// mpptProfile emits the labels of a BlueSolar/SmartSolar charge controller.
type mpptProfile struct {
	battery, current, panel, load walk

	loadOn        bool
	yieldToday    float64 // Wh
	yieldTotal    float64 // Wh
	maxPowerToday int64
	yesterday     int64 // 0.01 kWh
	maxYesterday  int64
	day           int64
}

func newMPPTProfile(src randomSource) (*mpptProfile, error) {
	p := &mpptProfile{loadOn: true}
	var err error
	if p.battery, err = newWalk(src, 12000, 14400, 40); err != nil {
		return nil, err
	}
	if p.current, err = newWalk(src, 0, 20000, 500); err != nil {
		return nil, err
	}
	if p.panel, err = newWalk(src, 0, 45000, 750); err != nil {
		return nil, err
	}
	if p.load, err = newWalk(src, 0, 5000, 200); err != nil {
		return nil, err
	}
	total, err := uniform(src, 100000, 2000000)
	if err != nil {
		return nil, err
	}
	p.yieldTotal = math.Round(total)
	yesterday, err := uniform(src, 0, 300)
	if err != nil {
		return nil, err
	}
	p.yesterday = int64(yesterday)
	p.maxYesterday = p.yesterday * 3
	day, err := uniform(src, 0, 300)
	if err != nil {
		return nil, err
	}
	p.day = int64(day)
	return p, nil
}

func (p *mpptProfile) version() uint16 { return 0x4159 }
func (p *mpptProfile) product() uint16 { return 0xA053 }

func (p *mpptProfile) next(src randomSource, elapsed time.Duration) ([]field, error) {
	for _, w := range []*walk{&p.battery, &p.current, &p.panel, &p.load} {
		if _, err := w.next(src); err != nil {
			return nil, err
		}
	}
	toggle, err := chance(src, 0.05)
	if err != nil {
		return nil, err
	}
	if toggle {
		p.loadOn = !p.loadOn
	}

	battery, current := p.battery.int(), p.current.int()
	panel := p.panel.int()
	if panel < battery {
		// No charge below battery voltage.
		current = 0
	}
	power := int64(math.Round(float64(battery) * float64(current) / 1e6))
	if power > p.maxPowerToday {
		p.maxPowerToday = power
	}
	energy := float64(power) * elapsed.Hours()
	p.yieldToday += energy
	p.yieldTotal += energy

	cs, tracking := 0, 0
	switch {
	case current == 0:
	case battery >= 14200:
		cs, tracking = 4, 2
	case battery >= 13500:
		cs, tracking = 5, 1
	default:
		cs, tracking = 3, 2
	}
	loadCurrent := int64(0)
	loadState := "OFF"
	if p.loadOn {
		loadState = "ON"
		loadCurrent = p.load.int()
	}

	return []field{
		{"PID", "0xA053"},
		{"FW", "159"},
		{"SER#", "HQ2132SIMUL"},
		{"V", strconv.FormatInt(battery, 10)},
		{"I", strconv.FormatInt(current, 10)},
		{"VPV", strconv.FormatInt(panel, 10)},
		{"PPV", strconv.FormatInt(power, 10)},
		{"CS", strconv.Itoa(cs)},
		{"MPPT", strconv.Itoa(tracking)},
		{"ERR", "0"},
		{"LOAD", loadState},
		{"IL", strconv.FormatInt(loadCurrent, 10)},
		{"H19", strconv.FormatInt(int64(p.yieldTotal/10), 10)},
		{"H20", strconv.FormatInt(int64(p.yieldToday/10), 10)},
		{"H21", strconv.FormatInt(p.maxPowerToday, 10)},
		{"H22", strconv.FormatInt(p.yesterday, 10)},
		{"H23", strconv.FormatInt(p.maxYesterday, 10)},
		{"HSDS", strconv.FormatInt(p.day, 10)},
	}, nil
}

// bmvProfile emits the labels of a BMV battery monitor.
type bmvProfile struct {
	battery, current, soc walk

	consumed   float64 // mAh
	discharged float64 // Wh
	charged    float64 // Wh
	deepest    float64 // mAh
	cycles     int64
}

func newBMVProfile(src randomSource) (*bmvProfile, error) {
	p := &bmvProfile{}
	var err error
	if p.battery, err = newWalk(src, 12200, 13800, 30); err != nil {
		return nil, err
	}
	if p.current, err = newWalk(src, -15000, 15000, 800); err != nil {
		return nil, err
	}
	if p.soc, err = newWalk(src, 400, 1000, 3); err != nil {
		return nil, err
	}
	cycles, err := uniform(src, 0, 500)
	if err != nil {
		return nil, err
	}
	p.cycles = int64(cycles)
	p.deepest = -float64(p.cycles) * 37
	return p, nil
}

func (p *bmvProfile) version() uint16 { return 0x4413 }
func (p *bmvProfile) product() uint16 { return 0x0203 }

func (p *bmvProfile) next(src randomSource, elapsed time.Duration) ([]field, error) {
	for _, w := range []*walk{&p.battery, &p.current, &p.soc} {
		if _, err := w.next(src); err != nil {
			return nil, err
		}
	}
	battery, current := p.battery.int(), p.current.int()
	power := int64(math.Round(float64(battery) * float64(current) / 1e6))
	p.consumed = math.Min(0, p.consumed+float64(current)*elapsed.Hours())
	p.deepest = math.Min(p.deepest, p.consumed)
	energy := math.Abs(float64(power)) * elapsed.Hours()
	if power < 0 {
		p.discharged += energy
	} else {
		p.charged += energy
	}

	ttg := int64(-1)
	if current < 0 && p.consumed < 0 {
		// Minutes until the remaining charge is drawn at the present rate.
		remaining := float64(p.soc.int()) / 1000 * 200000
		ttg = int64(remaining / float64(-current) * 60)
	}

	return []field{
		{"PID", "0x203"},
		{"V", strconv.FormatInt(battery, 10)},
		{"I", strconv.FormatInt(current, 10)},
		{"P", strconv.FormatInt(power, 10)},
		{"CE", strconv.FormatInt(int64(p.consumed), 10)},
		{"SOC", strconv.FormatInt(p.soc.int(), 10)},
		{"TTG", strconv.FormatInt(ttg, 10)},
		{"Alarm", "OFF"},
		{"Relay", "OFF"},
		{"AR", "0"},
		{"BMV", "700"},
		{"FW", "0413"},
		{"H1", strconv.FormatInt(int64(p.deepest), 10)},
		{"H2", strconv.FormatInt(int64(p.consumed), 10)},
		{"H4", strconv.FormatInt(p.cycles, 10)},
		{"H17", strconv.FormatInt(int64(p.discharged/10), 10)},
		{"H18", strconv.FormatInt(int64(p.charged/10), 10)},
	}, nil
}
