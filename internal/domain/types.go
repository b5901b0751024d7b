package domain

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelsDir         string   `json:"modelsDir"`
	InputDeviceID     string   `json:"inputDeviceId"`
	RequiredModelKeys []string `json:"requiredModelKeys"`
}
