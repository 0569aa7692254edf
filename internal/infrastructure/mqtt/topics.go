package mqtt

// DefaultTopicPrefix is the root of every smart-lock topic.
const DefaultTopicPrefix = "smartlock"

// Topics builds the topic names used between smartlockd and lock devices.
// The zero value uses DefaultTopicPrefix.
//
//	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
//	client.Subscribe(topics.Status(), 1, handler)
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Status is where devices publish {device, status, state, api_key} reports.
//
// Example: smartlock/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Commands is where LOCK/UNLOCK commands are published for devices.
//
// Example: smartlock/commands
func (t Topics) Commands() string {
	return t.prefix() + "/commands"
}

// SystemStatus carries smartlockd's own online/offline announcements and LWT.
//
// Example: smartlock/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}
