package channels

import (
	"fmt"
	"strings"
)

const (
	stateMeasurement     = "measurement"
	stateTotalIncreasing = "total_increasing"
)

// Entry binds a wire label to a channel and describes how its value is
// parsed.
type Entry struct {
	Label   string
	Channel Channel
	Name    string
	Unit    string
	Kind    Kind
	// Exp moves the decimal point of numeric values, -3 turns mV into V.
	Exp int32
	// NonNegative clamps negative numbers to zero.
	NonNegative bool
	Enum        *Enum
	// Format rewrites text values.
	Format      func(string) (string, error)
	DeviceClass string
	StateClass  string
}

// Info returns the channel metadata of the entry.
func (e Entry) Info() Info {
	return Info{
		Channel:     e.Channel,
		Name:        e.Name,
		Unit:        e.Unit,
		Kind:        e.Kind,
		DeviceClass: e.DeviceClass,
		StateClass:  e.StateClass,
		Enum:        e.Enum,
	}
}

func measure(label string, ch Channel, name, unit string, exp int32, class string) Entry {
	return Entry{Label: label, Channel: ch, Name: name, Unit: unit, Kind: KindNumber, Exp: exp, DeviceClass: class, StateClass: stateMeasurement}
}

func total(label string, ch Channel, name, unit string, exp int32, class string) Entry {
	return Entry{Label: label, Channel: ch, Name: name, Unit: unit, Kind: KindNumber, Exp: exp, DeviceClass: class, StateClass: stateTotalIncreasing}
}

func binary(label string, ch Channel, name string) Entry {
	return Entry{Label: label, Channel: ch, Name: name, Kind: KindBinary}
}

func text(label string, ch Channel, name string, format func(string) (string, error)) Entry {
	return Entry{Label: label, Channel: ch, Name: name, Kind: KindText, Format: format}
}

func enum(label string, ch Channel, name string, table *Enum) Entry {
	return Entry{Label: label, Channel: ch, Name: name, Kind: KindEnum, Enum: table}
}

// Table is the label table of the VE.Direct text protocol.
var Table = []Entry{
	measure("V", BatteryVoltage, "Battery voltage", "V", -3, "voltage"),
	measure("V2", BatteryVoltage2, "Battery voltage 2", "V", -3, "voltage"),
	measure("V3", BatteryVoltage3, "Battery voltage 3", "V", -3, "voltage"),
	measure("VS", AuxVoltage, "Auxiliary voltage", "V", -3, "voltage"),
	measure("VM", MidVoltage, "Mid-point voltage", "V", -3, "voltage"),
	measure("DM", MidDeviation, "Mid-point deviation", "%", -1, ""),
	measure("VPV", PanelVoltage, "Panel voltage", "V", -3, "voltage"),
	measure("PPV", PanelPower, "Panel power", "W", 0, "power"),
	measure("I", BatteryCurrent, "Battery current", "A", -3, "current"),
	measure("I2", BatteryCurrent2, "Battery current 2", "A", -3, "current"),
	measure("I3", BatteryCurrent3, "Battery current 3", "A", -3, "current"),
	measure("IL", LoadCurrent, "Load current", "A", -3, "current"),
	binary("LOAD", LoadOutputState, "Load output state"),
	measure("T", BatteryTemperature, "Battery temperature", "°C", 0, "temperature"),
	measure("P", InstantaneousPower, "Instantaneous power", "W", 0, "power"),
	measure("CE", ConsumedAmpHours, "Consumed amp hours", "Ah", -3, ""),
	measure("SOC", StateOfCharge, "State of charge", "%", -1, "battery"),
	measure("TTG", TimeToGo, "Time to go", "min", 0, "duration"),
	binary("Alarm", Alarm, "Alarm"),
	binary("Relay", Relay, "Relay"),
	enum("AR", AlarmReason, "Alarm reason", WarningCodes),
	enum("OR", OffReason, "Off reason", OffReasons),
	measure("H1", DeepestDischarge, "Deepest discharge", "Ah", -3, ""),
	measure("H2", LastDischarge, "Last discharge", "Ah", -3, ""),
	measure("H3", AverageDischarge, "Average discharge", "Ah", -3, ""),
	total("H4", ChargeCycles, "Charge cycles", "", 0, ""),
	total("H5", FullDischarges, "Full discharges", "", 0, ""),
	total("H6", CumulativeAmpHours, "Cumulative amp hours drawn", "Ah", -3, ""),
	measure("H7", MinBatteryVoltage, "Minimum battery voltage", "V", -3, "voltage"),
	measure("H8", MaxBatteryVoltage, "Maximum battery voltage", "V", -3, "voltage"),
	measure("H9", SecondsSinceFullCharge, "Time since last full charge", "s", 0, "duration"),
	total("H10", AutoSyncs, "Automatic synchronizations", "", 0, ""),
	total("H11", LowVoltageAlarms, "Low voltage alarms", "", 0, ""),
	total("H12", HighVoltageAlarms, "High voltage alarms", "", 0, ""),
	total("H13", LowAuxVoltageAlarms, "Low auxiliary voltage alarms", "", 0, ""),
	total("H14", HighAuxVoltageAlarms, "High auxiliary voltage alarms", "", 0, ""),
	measure("H15", MinAuxVoltage, "Minimum auxiliary voltage", "V", -3, "voltage"),
	measure("H16", MaxAuxVoltage, "Maximum auxiliary voltage", "V", -3, "voltage"),
	total("H17", DischargedEnergy, "Discharged energy", "Wh", 1, "energy"),
	total("H18", ChargedEnergy, "Charged energy", "Wh", 1, "energy"),
	total("H19", YieldTotal, "Yield total", "Wh", 1, "energy"),
	total("H20", YieldToday, "Yield today", "Wh", 1, "energy"),
	measure("H21", MaxPowerToday, "Maximum power today", "W", 0, "power"),
	total("H22", YieldYesterday, "Yield yesterday", "Wh", 1, "energy"),
	measure("H23", MaxPowerYesterday, "Maximum power yesterday", "W", 0, "power"),
	enum("ERR", ErrorCode, "Error", ErrorCodes),
	enum("CS", ChargingMode, "Charging mode", ChargingModes),
	text("BMV", ModelDescription, "Model description", nil),
	text("FW", FirmwareVersion, "Firmware version", FormatFirmware),
	text("FWE", FirmwareVersion, "Firmware version", FormatFirmware24),
	enum("PID", DeviceType, "Device type", DeviceTypes),
	text("SER#", SerialNumber, "Serial number", nil),
	measure("HSDS", DayNumber, "Day sequence number", "", 0, ""),
	enum("MODE", DeviceMode, "Device mode", DeviceModes),
	measure("AC_OUT_V", ACOutVoltage, "AC output voltage", "V", -2, "voltage"),
	{Label: "AC_OUT_I", Channel: ACOutCurrent, Name: "AC output current", Unit: "A", Kind: KindNumber, Exp: -1, NonNegative: true, DeviceClass: "current", StateClass: stateMeasurement},
	measure("AC_OUT_S", ACOutApparentPower, "AC output apparent power", "VA", 0, "apparent_power"),
	enum("WARN", Warning, "Warning", WarningCodes),
	enum("MPPT", TrackingMode, "Tracking mode", TrackingModes),
	enum("MON", MonitorMode, "Monitor mode", MonitorModes),
	measure("DC_IN_V", DCInputVoltage, "DC input voltage", "V", -2, "voltage"),
	measure("DC_IN_I", DCInputCurrent, "DC input current", "A", -1, "current"),
	measure("DC_IN_P", DCInputPower, "DC input power", "W", 0, "power"),
}

// FormatFirmware renders a FW value such as "150" as "1.50".
func FormatFirmware(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return "", fmt.Errorf("%w: firmware %q", ErrInvalidValue, value)
	}
	major := strings.TrimLeft(value[:len(value)-2], "0")
	if major == "" {
		major = "0"
	}
	return major + "." + value[len(value)-2:], nil
}

// FormatFirmware24 renders a FWE value such as "0420FF" as "4.20". A build
// byte other than FF marks a beta release and is appended.
func FormatFirmware24(value string) (string, error) {
	value = strings.TrimSpace(value)
	if len(value) < 4 {
		return "", fmt.Errorf("%w: firmware %q", ErrInvalidValue, value)
	}
	build := strings.ToUpper(value[len(value)-2:])
	version, err := FormatFirmware(value[:len(value)-2])
	if err != nil {
		return "", err
	}
	if build != "FF" {
		version += "-beta-" + build
	}
	return version, nil
}
