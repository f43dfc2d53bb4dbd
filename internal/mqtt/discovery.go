package mqtt

// DeviceInfo holds the Home Assistant device registry fields shared by
// every entity of one device, so HA groups them on a single device page.
type DeviceInfo struct {
	Identifiers      []string    `json:"identifiers,omitempty"`
	Connections      [][2]string `json:"connections,omitempty"`
	Name             string      `json:"name"`
	Manufacturer     string      `json:"manufacturer,omitempty"`
	Model            string      `json:"model,omitempty"`
	SWVersion        string      `json:"sw_version,omitempty"`
	SuggestedArea    string      `json:"suggested_area,omitempty"`
	ConfigurationURL string      `json:"configuration_url,omitempty"`
}

// SensorConfig is the JSON payload of an HA MQTT sensor discovery
// message.
type SensorConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template,omitempty"`
	AvailabilityTopic string     `json:"availability_topic,omitempty"`
	ExpireAfter       int        `json:"expire_after,omitempty"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
}

// DiscoveryOptions are the publisher settings a device needs to build
// its discovery descriptors.
type DiscoveryOptions struct {
	// StateTopic is the full topic carrying the aggregate JSON state.
	StateTopic string
	// Instance prefixes unique ids and object ids.
	Instance string
}

// DiscoveryTopic returns the config topic for a "<category>/<entity>"
// key under prefix.
func DiscoveryTopic(prefix, key string) string {
	return prefix + "/" + key + "/config"
}
