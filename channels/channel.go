// Package channels maps VE.Direct records to typed readings of a closed set
// of channels.
package channels

// Channel identifies a logical measurement independent of its wire label.
type Channel string

const (
	BatteryVoltage         Channel = "battery_voltage"
	BatteryVoltage2        Channel = "battery_voltage_2"
	BatteryVoltage3        Channel = "battery_voltage_3"
	AuxVoltage             Channel = "aux_voltage"
	MidVoltage             Channel = "mid_voltage"
	MidDeviation           Channel = "mid_deviation"
	PanelVoltage           Channel = "panel_voltage"
	PanelPower             Channel = "panel_power"
	BatteryCurrent         Channel = "battery_current"
	BatteryCurrent2        Channel = "battery_current_2"
	BatteryCurrent3        Channel = "battery_current_3"
	LoadCurrent            Channel = "load_current"
	LoadOutputState        Channel = "load_output_state"
	BatteryTemperature     Channel = "battery_temperature"
	InstantaneousPower     Channel = "instantaneous_power"
	ConsumedAmpHours       Channel = "consumed_amp_hours"
	StateOfCharge          Channel = "state_of_charge"
	TimeToGo               Channel = "time_to_go"
	Alarm                  Channel = "alarm"
	Relay                  Channel = "relay"
	AlarmReason            Channel = "alarm_reason"
	OffReason              Channel = "off_reason"
	DeepestDischarge       Channel = "deepest_discharge"
	LastDischarge          Channel = "last_discharge"
	AverageDischarge       Channel = "average_discharge"
	ChargeCycles           Channel = "charge_cycles"
	FullDischarges         Channel = "full_discharges"
	CumulativeAmpHours     Channel = "cumulative_amp_hours"
	MinBatteryVoltage      Channel = "min_battery_voltage"
	MaxBatteryVoltage      Channel = "max_battery_voltage"
	SecondsSinceFullCharge Channel = "seconds_since_full_charge"
	AutoSyncs              Channel = "auto_syncs"
	LowVoltageAlarms       Channel = "low_voltage_alarms"
	HighVoltageAlarms      Channel = "high_voltage_alarms"
	LowAuxVoltageAlarms    Channel = "low_aux_voltage_alarms"
	HighAuxVoltageAlarms   Channel = "high_aux_voltage_alarms"
	MinAuxVoltage          Channel = "min_aux_voltage"
	MaxAuxVoltage          Channel = "max_aux_voltage"
	DischargedEnergy       Channel = "discharged_energy"
	ChargedEnergy          Channel = "charged_energy"
	YieldTotal             Channel = "yield_total"
	YieldToday             Channel = "yield_today"
	MaxPowerToday          Channel = "max_power_today"
	YieldYesterday         Channel = "yield_yesterday"
	MaxPowerYesterday      Channel = "max_power_yesterday"
	ErrorCode              Channel = "error"
	ChargingMode           Channel = "charging_mode"
	ModelDescription       Channel = "model_description"
	FirmwareVersion        Channel = "firmware_version"
	DeviceType             Channel = "device_type"
	SerialNumber           Channel = "serial_number"
	DayNumber              Channel = "day_number"
	DeviceMode             Channel = "device_mode"
	ACOutVoltage           Channel = "ac_out_voltage"
	ACOutCurrent           Channel = "ac_out_current"
	ACOutApparentPower     Channel = "ac_out_apparent_power"
	Warning                Channel = "warning"
	TrackingMode           Channel = "tracking_mode"
	MonitorMode            Channel = "monitor_mode"
	DCInputVoltage         Channel = "dc_in_voltage"
	DCInputCurrent         Channel = "dc_in_current"
	DCInputPower           Channel = "dc_in_power"
)

// Info describes a channel for sinks that need metadata, for example Home
// Assistant discovery.
type Info struct {
	Channel     Channel
	Name        string
	Unit        string
	Kind        Kind
	DeviceClass string
	StateClass  string
	Enum        *Enum
}

var infoByChannel = buildInfo(Table)

func buildInfo(entries []Entry) map[Channel]Info {
	out := make(map[Channel]Info, len(entries))
	for _, e := range entries {
		if _, ok := out[e.Channel]; ok {
			continue
		}
		out[e.Channel] = e.Info()
	}
	return out
}

// Lookup returns the metadata of a channel of the closed set.
func Lookup(ch Channel) (Info, bool) {
	info, ok := infoByChannel[ch]
	return info, ok
}

// All returns the metadata of every channel in table order.
func All() []Info {
	seen := make(map[Channel]struct{}, len(Table))
	out := make([]Info, 0, len(infoByChannel))
	for _, e := range Table {
		if _, ok := seen[e.Channel]; ok {
			continue
		}
		seen[e.Channel] = struct{}{}
		out = append(out, infoByChannel[e.Channel])
	}
	return out
}
