package channels

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMapScalesBatteryVoltage(t *testing.T) {
	reading, ok := DefaultMapper().Map("V", "12800")
	require.True(t, ok)
	require.Equal(t, BatteryVoltage, reading.Channel)
	require.Equal(t, KindNumber, reading.Value.Kind)
	require.True(t, reading.Value.Number.Equal(decimal.RequireFromString("12.8")))
}

func TestMapNumericScaling(t *testing.T) {
	cases := []struct {
		label string
		value string
		want  string
	}{
		{"I", "-1200", "-1.2"},
		{"VPV", "33150", "33.15"},
		{"PPV", "250", "250"},
		{"SOC", "876", "87.6"},
		{"CE", "-13500", "-13.5"},
		{"H19", "3456", "34560"},
		{"H17", "12", "120"},
		{"AC_OUT_V", "23001", "230.01"},
		{"AC_OUT_I", "15", "1.5"},
		{"AC_OUT_I", "-3", "0"},
		{"DC_IN_V", "1280", "12.8"},
		{"T", "25", "25"},
		{"TTG", "-1", "-1"},
	}
	m := DefaultMapper()
	for _, tc := range cases {
		reading, ok := m.Map(tc.label, tc.value)
		require.True(t, ok, tc.label)
		require.Equal(t, tc.want, reading.Value.String(), "%s %s", tc.label, tc.value)
	}
}

func TestMapRejectsUnknownLabel(t *testing.T) {
	_, ok := DefaultMapper().Map("XYZ", "1")
	require.False(t, ok)

	_, err := DefaultMapper().Resolve("XYZ", "1")
	require.ErrorIs(t, err, ErrUnrecognizedLabel)
}

func TestMapRejectsUnparsableNumber(t *testing.T) {
	_, ok := DefaultMapper().Map("T", "---")
	require.False(t, ok)

	_, err := DefaultMapper().Resolve("V", "12.8.0")
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestMapEnums(t *testing.T) {
	m := DefaultMapper()

	reading, ok := m.Map("CS", "5")
	require.True(t, ok)
	require.Equal(t, ChargingMode, reading.Channel)
	require.Equal(t, EnumValue(5, "Float", true), reading.Value)

	reading, ok = m.Map("PID", "0xA053")
	require.True(t, ok)
	require.Equal(t, "SmartSolar MPPT 75/15", reading.Value.Text)
	require.Equal(t, int64(0xA053), reading.Value.Code)

	reading, ok = m.Map("OR", "0x00000001")
	require.True(t, ok)
	require.Equal(t, "No input power", reading.Value.Text)

	reading, ok = m.Map("MON", "-9")
	require.True(t, ok)
	require.Equal(t, "Solar charger", reading.Value.Text)

	reading, ok = m.Map("WARN", "3")
	require.True(t, ok)
	require.Equal(t, "Multiple warnings", reading.Value.Text)
	require.True(t, reading.Value.Known)
}

func TestMapUnknownEnumToken(t *testing.T) {
	m := DefaultMapper()

	reading, ok := m.Map("ERR", "250")
	require.True(t, ok)
	require.False(t, reading.Value.Known)
	require.Equal(t, UnknownName, reading.Value.Text)

	reading, err := m.Resolve("MPPT", "n/a")
	require.ErrorIs(t, err, ErrUnrecognizedEnumToken)
	require.Equal(t, TrackingMode, reading.Channel)
	require.False(t, reading.Value.Known)

	_, err = m.Resolve("AR", "8192")
	require.ErrorIs(t, err, ErrUnrecognizedEnumToken)
}

func TestMapBinaryAndText(t *testing.T) {
	m := DefaultMapper()

	reading, ok := m.Map("LOAD", "OFF")
	require.True(t, ok)
	require.Equal(t, BinaryValue(false), reading.Value)

	reading, ok = m.Map("Relay", "ON")
	require.True(t, ok)
	require.True(t, reading.Value.Bool)

	_, ok = m.Map("Alarm", "MAYBE")
	require.False(t, ok)

	reading, ok = m.Map("FW", "0159")
	require.True(t, ok)
	require.Equal(t, "1.59", reading.Value.Text)

	reading, ok = m.Map("FWE", "0420FF")
	require.True(t, ok)
	require.Equal(t, FirmwareVersion, reading.Channel)
	require.Equal(t, "4.20", reading.Value.Text)

	reading, ok = m.Map("FWE", "041712")
	require.True(t, ok)
	require.Equal(t, "4.17-beta-12", reading.Value.Text)

	reading, ok = m.Map("BMV", "712 Smart")
	require.True(t, ok)
	require.Equal(t, TextValue("712 Smart"), reading.Value)
}

func TestNewMapperValidatesEntries(t *testing.T) {
	_, err := NewMapper([]Entry{{Label: "V", Channel: BatteryVoltage, Kind: KindNumber}, {Label: "V", Channel: AuxVoltage, Kind: KindNumber}})
	require.Error(t, err)

	_, err = NewMapper([]Entry{{Label: "CS", Channel: ChargingMode, Kind: KindEnum}})
	require.Error(t, err)

	m, err := NewMapper([]Entry{measure("V", BatteryVoltage, "Battery voltage", "V", -3, "voltage")})
	require.NoError(t, err)
	_, ok := m.Map("I", "100")
	require.False(t, ok)
	entry, ok := m.Entry("V")
	require.True(t, ok)
	require.Equal(t, int32(-3), entry.Exp)
}

func TestValueViews(t *testing.T) {
	f, ok := BinaryValue(true).Float64()
	require.True(t, ok)
	require.Equal(t, 1.0, f)

	f, ok = EnumValue(4, "Absorption", true).Float64()
	require.True(t, ok)
	require.Equal(t, 4.0, f)

	_, ok = TextValue("HQ2132").Float64()
	require.False(t, ok)

	require.Equal(t, "OFF", BinaryValue(false).String())
	require.True(t, NumberValue(decimal.New(128, -1)).Equal(NumberValue(decimal.RequireFromString("12.80"))))
	require.False(t, EnumValue(1, "a", true).Equal(EnumValue(1, "a", false)))
}

func TestChannelMetadata(t *testing.T) {
	info, ok := Lookup(BatteryVoltage)
	require.True(t, ok)
	require.Equal(t, "V", info.Unit)
	require.Equal(t, "voltage", info.DeviceClass)

	info, ok = Lookup(FirmwareVersion)
	require.True(t, ok)
	require.Equal(t, KindText, info.Kind)

	_, ok = Lookup("nope")
	require.False(t, ok)

	all := All()
	seen := map[Channel]bool{}
	for _, info := range all {
		require.False(t, seen[info.Channel], "duplicate %s", info.Channel)
		seen[info.Channel] = true
	}
	require.Equal(t, BatteryVoltage, all[0].Channel)
	require.Len(t, all, len(Table)-1)
}

func TestEnumCodesSorted(t *testing.T) {
	codes := TrackingModes.Codes()
	require.Equal(t, []int64{0, 1, 2}, codes)
	require.Equal(t, "tracking_mode", TrackingModes.Name())
}

func TestEnumNames(t *testing.T) {
	require.Equal(t, []string{"Off", "Limited", "Active", UnknownName}, TrackingModes.Names())

	names := WarningCodes.Names()
	require.Equal(t, "No warning", names[0])
	require.Equal(t, []string{"Multiple warnings", UnknownName}, names[len(names)-2:])
}
