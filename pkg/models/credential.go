package models

// Credential holds one user's cloud account credentials in clear text
type Credential struct {
	UserID          string `json:"userId"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	Region          string `json:"region"`
}

// ActionType is a mutating operation the actuator can perform
type ActionType string

const (
	ActionStopInstance      ActionType = "stop"
	ActionTerminateInstance ActionType = "terminate"
	ActionDeleteVolume      ActionType = "delete_volume"
)

// Valid reports whether the action is known
func (a ActionType) Valid() bool {
	switch a {
	case ActionStopInstance, ActionTerminateInstance, ActionDeleteVolume:
		return true
	}
	return false
}
