package channels

import (
	"math/bits"
	"sort"
)

// UnknownName is the name reported for codes missing from an enum table.
const UnknownName = "Unknown"

// Enum is a closed code to name table.
type Enum struct {
	name  string
	names map[int64]string
	// flags marks tables whose codes are bit sets; combinations of known
	// bits resolve to multiple.
	flags    bool
	multiple string
}

// Name returns the table name.
func (e *Enum) Name() string {
	return e.name
}

// Lookup returns the name of code and whether the code is known.
func (e *Enum) Lookup(code int64) (string, bool) {
	if name, ok := e.names[code]; ok {
		return name, true
	}
	if e.flags && code > 0 && bits.OnesCount64(uint64(code)) > 1 {
		for rest := uint64(code); rest != 0; rest &= rest - 1 {
			if _, ok := e.names[int64(rest&-rest)]; !ok {
				return UnknownName, false
			}
		}
		return e.multiple, true
	}
	return UnknownName, false
}

// Codes returns the known codes in ascending order.
func (e *Enum) Codes() []int64 {
	codes := make([]int64, 0, len(e.names))
	for code := range e.names {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Names returns every name Lookup can produce, in code order, ending with
// UnknownName.
func (e *Enum) Names() []string {
	out := make([]string, 0, len(e.names)+2)
	seen := make(map[string]struct{}, len(e.names)+2)
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, code := range e.Codes() {
		add(e.names[code])
	}
	if e.flags {
		add(e.multiple)
	}
	add(UnknownName)
	return out
}

// ChargingModes maps CS codes.
var ChargingModes = &Enum{name: "charging_mode", names: map[int64]string{
	0:   "Off",
	1:   "Low power",
	2:   "Fault",
	3:   "Bulk",
	4:   "Absorption",
	5:   "Float",
	6:   "Storage",
	7:   "Equalize (manual)",
	9:   "Inverting",
	11:  "Power supply",
	245: "Starting-up",
	246: "Repeated absorption",
	247: "Auto equalize / Recondition",
	248: "BatterySafe",
	252: "External control",
}}

// ErrorCodes maps ERR codes.
var ErrorCodes = &Enum{name: "error", names: map[int64]string{
	0:   "No error",
	2:   "Battery voltage too high",
	17:  "Charger temperature too high",
	18:  "Charger over current",
	19:  "Charger current reversed",
	20:  "Bulk time limit exceeded",
	21:  "Current sensor issue",
	26:  "Terminals overheated",
	28:  "Converter issue",
	33:  "Input voltage too high (solar panel)",
	34:  "Input current too high (solar panel)",
	38:  "Input shutdown (excessive battery voltage)",
	39:  "Input shutdown (due to current flow during off mode)",
	65:  "Lost communication with one of devices",
	66:  "Synchronised charging device configuration issue",
	67:  "BMS connection lost",
	68:  "Network misconfigured",
	116: "Factory calibration data lost",
	117: "Invalid/incompatible firmware",
	119: "User settings invalid",
}}

// WarningCodes maps WARN and AR bit sets.
var WarningCodes = &Enum{name: "warning", flags: true, multiple: "Multiple warnings", names: map[int64]string{
	0:    "No warning",
	1:    "Low Voltage",
	2:    "High Voltage",
	4:    "Low SOC",
	8:    "Low Starter Voltage",
	16:   "High Starter Voltage",
	32:   "Low Temperature",
	64:   "High Temperature",
	128:  "Mid Voltage",
	256:  "Overload",
	512:  "DC-ripple",
	1024: "Low V AC out",
	2048: "High V AC out",
}}

// OffReasons maps OR bit sets.
var OffReasons = &Enum{name: "off_reason", flags: true, multiple: "Multiple reasons", names: map[int64]string{
	0x000: "None",
	0x001: "No input power",
	0x002: "Switched off (power switch)",
	0x004: "Switched off (device mode register)",
	0x008: "Remote input",
	0x010: "Protection active",
	0x020: "Paygo",
	0x040: "BMS",
	0x080: "Engine shutdown detection",
	0x100: "Analysing input voltage",
}}

// TrackingModes maps MPPT codes.
var TrackingModes = &Enum{name: "tracking_mode", names: map[int64]string{
	0: "Off",
	1: "Limited",
	2: "Active",
}}

// DeviceModes maps MODE codes.
var DeviceModes = &Enum{name: "device_mode", names: map[int64]string{
	0: "Off",
	2: "On",
	4: "Off",
	5: "Eco",
}}

// MonitorModes maps MON codes of DC monitors.
var MonitorModes = &Enum{name: "monitor_mode", names: map[int64]string{
	-9: "Solar charger",
	-8: "Wind turbine",
	-7: "Shaft generator",
	-6: "Alternator",
	-5: "Fuel cell",
	-4: "Water generator",
	-3: "DC/DC charger",
	-2: "AC charger",
	-1: "Generic source",
	0:  "Battery monitor",
	1:  "Generic load",
	2:  "Electric drive",
	3:  "Fridge",
	4:  "Water pump",
	5:  "Bilge pump",
	6:  "DC system",
	7:  "Inverter",
	8:  "Water heater",
}}

// DeviceTypes maps PID product ids.
var DeviceTypes = &Enum{name: "device_type", names: map[int64]string{
	0x203:  "BMV-700",
	0x204:  "BMV-702",
	0x205:  "BMV-700H",
	0x300:  "BlueSolar MPPT 70/15",
	0xA381: "BMV-712 Smart",
	0xA389: "SmartShunt",
	0xA040: "BlueSolar MPPT 75/50",
	0xA041: "BlueSolar MPPT 150/35 rev1",
	0xA042: "BlueSolar MPPT 75/15",
	0xA043: "BlueSolar MPPT 100/15",
	0xA044: "BlueSolar MPPT 100/30 rev1",
	0xA045: "BlueSolar MPPT 100/50 rev1",
	0xA046: "BlueSolar MPPT 150/70",
	0xA047: "BlueSolar MPPT 150/100",
	0xA049: "BlueSolar MPPT 100/50 rev2",
	0xA04A: "BlueSolar MPPT 100/30 rev2",
	0xA04B: "BlueSolar MPPT 150/35 rev2",
	0xA04C: "BlueSolar MPPT 75/10",
	0xA04D: "BlueSolar MPPT 150/45",
	0xA04E: "BlueSolar MPPT 150/60",
	0xA04F: "BlueSolar MPPT 150/85",
	0xA050: "SmartSolar MPPT 250/100",
	0xA051: "SmartSolar MPPT 150/100",
	0xA052: "SmartSolar MPPT 150/85",
	0xA053: "SmartSolar MPPT 75/15",
	0xA054: "SmartSolar MPPT 75/10",
	0xA055: "SmartSolar MPPT 100/15",
	0xA056: "SmartSolar MPPT 100/30",
	0xA057: "SmartSolar MPPT 100/50",
	0xA058: "SmartSolar MPPT 150/35",
	0xA059: "SmartSolar MPPT 150/100 rev2",
	0xA05A: "SmartSolar MPPT 150/85 rev2",
	0xA05B: "SmartSolar MPPT 250/70",
	0xA05C: "SmartSolar MPPT 250/85",
	0xA05D: "SmartSolar MPPT 250/60",
	0xA05E: "SmartSolar MPPT 250/45",
	0xA05F: "SmartSolar MPPT 100/20",
	0xA060: "SmartSolar MPPT 100/20 48V",
	0xA061: "SmartSolar MPPT 150/45",
	0xA062: "SmartSolar MPPT 150/60",
	0xA063: "SmartSolar MPPT 150/70",
	0xA064: "SmartSolar MPPT 250/85 rev2",
	0xA065: "SmartSolar MPPT 250/100 rev2",
	0xA201: "Phoenix Inverter 12V 250VA 230V",
	0xA202: "Phoenix Inverter 24V 250VA 230V",
	0xA204: "Phoenix Inverter 48V 250VA 230V",
	0xA211: "Phoenix Inverter 12V 375VA 230V",
	0xA212: "Phoenix Inverter 24V 375VA 230V",
	0xA214: "Phoenix Inverter 48V 375VA 230V",
	0xA221: "Phoenix Inverter 12V 500VA 230V",
	0xA222: "Phoenix Inverter 24V 500VA 230V",
	0xA224: "Phoenix Inverter 48V 500VA 230V",
	0xA231: "Phoenix Inverter 12V 250VA 230V",
	0xA232: "Phoenix Inverter 24V 250VA 230V",
	0xA234: "Phoenix Inverter 48V 250VA 230V",
	0xA239: "Phoenix Inverter 12V 250VA 120V",
	0xA23A: "Phoenix Inverter 24V 250VA 120V",
	0xA23C: "Phoenix Inverter 48V 250VA 120V",
	0xA241: "Phoenix Inverter 12V 375VA 230V",
	0xA242: "Phoenix Inverter 24V 375VA 230V",
	0xA244: "Phoenix Inverter 48V 375VA 230V",
	0xA249: "Phoenix Inverter 12V 375VA 120V",
	0xA24A: "Phoenix Inverter 24V 375VA 120V",
	0xA24C: "Phoenix Inverter 48V 375VA 120V",
	0xA251: "Phoenix Inverter 12V 500VA 230V",
	0xA252: "Phoenix Inverter 24V 500VA 230V",
	0xA254: "Phoenix Inverter 48V 500VA 230V",
	0xA259: "Phoenix Inverter 12V 500VA 120V",
	0xA25A: "Phoenix Inverter 24V 500VA 120V",
	0xA25C: "Phoenix Inverter 48V 500VA 120V",
	0xA261: "Phoenix Inverter 12V 800VA 230V",
	0xA262: "Phoenix Inverter 24V 800VA 230V",
	0xA264: "Phoenix Inverter 48V 800VA 230V",
	0xA269: "Phoenix Inverter 12V 800VA 120V",
	0xA26A: "Phoenix Inverter 24V 800VA 120V",
	0xA26C: "Phoenix Inverter 48V 800VA 120V",
	0xA271: "Phoenix Inverter 12V 1200VA 230V",
	0xA272: "Phoenix Inverter 24V 1200VA 230V",
	0xA274: "Phoenix Inverter 48V 1200VA 230V",
	0xA279: "Phoenix Inverter 12V 1200VA 120V",
	0xA27A: "Phoenix Inverter 24V 1200VA 120V",
	0xA27C: "Phoenix Inverter 48V 1200VA 120V",
}}
