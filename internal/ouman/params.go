// Package ouman polls an Ouman EH-800 heating controller over its web
// interface and turns the raw parameter codes it returns into named,
// typed values.
//
// The controller answers GET /request?<code>;<code>;... with a body of
// the form "request?<code>=<value>;<code>=<value>;". Only the codes in
// the parameter table are requested and decoded.
package ouman

// Kind selects how a raw value is decoded.
type Kind int

// Value kinds.
const (
	// KindFloat values decode to float64.
	KindFloat Kind = iota
	// KindSelect values map through the parameter's Options.
	KindSelect
)

func (k Kind) String() string {
	if k == KindSelect {
		return "select"
	}
	return "float"
}

// Class selects how a parameter is presented to Home Assistant.
type Class string

// Parameter classes.
const (
	ClassRaw         Class = "raw"
	ClassTemperature Class = "temperature"
	ClassGauge       Class = "gauge"
)

// Param describes one controller parameter.
type Param struct {
	// Code is the controller's register code, e.g. "S_227_85".
	Code string
	// Key is the name the value is published under.
	Key  string
	Name string
	Kind Kind
	// Class defaults to ClassRaw when empty.
	Class Class
	// Unit is required for ClassGauge.
	Unit string
	Icon string
	// Options maps raw select codes to value names.
	Options map[string]string
}

// DefaultParams is the EH-800 parameter set, in request order.
var DefaultParams = []Param{
	{
		Code: "S_59_85",
		Key:  "L1_control",
		Name: "L1 control setting",
		Kind: KindSelect,
		Icon: "mdi:car-cruise-control",
		Options: map[string]string{
			"0": "automatic",
			"1": "forced_small_drop",
			"2": "forced_large_drop",
			"3": "forced_normal",
			"5": "shutdown",
			"6": "manual",
		},
	},
	{
		Code:  "S_92_85",
		Key:   "L1_valve_manual_pct",
		Name:  "L1 manual valve setting",
		Class: ClassGauge,
		Unit:  "%",
		Icon:  "mdi:valve",
	},
	{
		Code:  "S_134_85",
		Key:   "room_finetune_t",
		Name:  "Room temperature fine tuning",
		Class: ClassTemperature,
	},
	{
		Code: "S_222_85",
		Key:  "at_home_control",
		Name: "Home/Away control mode",
		Kind: KindSelect,
		Icon: "mdi:home-switch-outline",
		Options: map[string]string{
			"0": "home",
			"1": "away",
			"2": "disabled",
		},
	},
	{
		Code:  "S_227_85",
		Key:   "outside_t",
		Name:  "Outside temperature",
		Class: ClassTemperature,
	},
	{
		Code:  "S_234_85",
		Key:   "ambient_t",
		Name:  "ambient temperature",
		Class: ClassTemperature,
	},
	{
		Code:  "S_259_85",
		Key:   "L1_measured_t",
		Name:  "L1 measured temperature",
		Class: ClassTemperature,
	},
	{
		Code:  "S_272_85",
		Key:   "L1_valve_pct",
		Name:  "L1 valve current position",
		Class: ClassGauge,
		Unit:  "%",
		Icon:  "mdi:valve",
	},
	{
		Code:  "S_275_85",
		Key:   "L1_target_t",
		Name:  "L1 target temperature",
		Class: ClassTemperature,
		Icon:  "mdi:gauge",
	},
}

func (p Param) class() Class {
	if p.Class == "" {
		return ClassRaw
	}
	return p.Class
}
