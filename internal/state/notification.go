// ABOUTME: Transient user notifications raised by the messaging layer
// ABOUTME: Distinct from the persistent error and success messages in State

package state

// Level is the severity shown with a notification.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
)

// Notification is a one-shot message for the user.
type Notification struct {
	Message string
	Level   Level
}

// Notification texts.
const (
	ClientErrorMessage = "Client Error - Websockets"
	unrecognizedPrefix = "Error - Unrecognized Websocket Message Type: "
)

// ClientError is raised for socket errors and local dispatch failures.
func ClientError() Notification {
	return Notification{Message: ClientErrorMessage, Level: LevelError}
}

// Unrecognized is raised for an envelope no route handles.
func Unrecognized(name string) Notification {
	return Notification{Message: unrecognizedPrefix + name, Level: LevelError}
}
