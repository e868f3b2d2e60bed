package application

const DefaultTopicPrefix = "yogurt"

// Topics builds the machine's topic names under Prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Temperature carries the current reading as a decimal string, e.g. "23.5".
func (t Topics) Temperature() string {
	return t.prefix() + "/temperature"
}

// Status carries one of the MachineStatus names.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Command is the outbound topic for START and STOP.
func (t Topics) Command() string {
	return t.prefix() + "/command"
}
