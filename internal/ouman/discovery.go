package ouman

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/vaizki/ouman2mqtt/internal/mqtt"
)

// Device registry constants.
const (
	Manufacturer  = "Ouman Oy"
	Model         = "EH-800"
	SuggestedArea = "Boiler Room"
)

// Device returns the Home Assistant device block for this controller.
// The identifier is a UUIDv5 of the base URL, so it is stable across
// restarts and distinct per controller.
func (c *Client) Device() mqtt.DeviceInfo {
	sum := sha1.Sum([]byte(c.baseURL))
	return mqtt.DeviceInfo{
		Identifiers:      []string{uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.baseURL)).String()},
		Connections:      [][2]string{{"url_hash", hex.EncodeToString(sum[:])}},
		Name:             c.name,
		Manufacturer:     Manufacturer,
		Model:            Model,
		SuggestedArea:    SuggestedArea,
		ConfigurationURL: c.baseURL,
	}
}

// Discovery returns one sensor descriptor per parameter, keyed
// "sensor/<instance>_<key>". Every sensor reads its value out of the
// aggregate state message.
func (c *Client) Discovery(opts mqtt.DiscoveryOptions) map[string]mqtt.SensorConfig {
	device := c.Device()
	configs := make(map[string]mqtt.SensorConfig, len(c.params))
	for _, p := range c.params {
		id := opts.Instance + "_" + p.Key
		sc := mqtt.SensorConfig{
			Name:          c.name + " " + p.Name,
			ObjectID:      id,
			UniqueID:      id,
			StateTopic:    opts.StateTopic,
			ValueTemplate: "{{value_json." + p.Key + "}}",
			Device:        device,
			Icon:          p.Icon,
		}
		if p.Kind != KindSelect {
			sc.StateClass = "measurement"
		}
		switch p.class() {
		case ClassTemperature:
			sc.DeviceClass = "temperature"
			sc.UnitOfMeasurement = "°C"
		case ClassGauge:
			sc.UnitOfMeasurement = p.Unit
		}
		configs["sensor/"+id] = sc
	}
	return configs
}
