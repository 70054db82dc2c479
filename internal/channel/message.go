// Package channel carries method calls from the host application to the
// capture session and relays session events back over a websocket.
package channel

// Method names accepted on the channel.
const (
	MethodHasPermission      = "hasPermission"
	MethodInitializeRecorder = "initializeRecorder"
	MethodStartRecording     = "startRecording"
	MethodStopRecording      = "stopRecording"
	MethodPlatformVersion    = "getPlatformVersion"
	MethodPermissionResult   = "permissionResult"

	// MethodPlatformEvent is the fixed method name of every outbound event.
	MethodPlatformEvent = "platformEvent"
)

// EventPermissionRequest asks a host running in host permission mode to
// show its own microphone dialog. Its data is the request code.
const EventPermissionRequest = "permissionRequest"

// Error codes that are not session error kinds.
const (
	CodeNotImplemented = "notImplemented"
	CodeBadRequest     = "badRequest"
)

// Call is one inbound method call.
type Call struct {
	ID     string         `json:"id" msgpack:"id"`
	Method string         `json:"method" msgpack:"method"`
	Args   map[string]any `json:"args,omitempty" msgpack:"args,omitempty"`
}

// Reply answers a Call. Exactly one of Result and Error is meaningful.
// Result has no msgpack omitempty: it would drop a false result.
type Reply struct {
	ID     string      `json:"id" msgpack:"id"`
	Result any         `json:"result,omitempty" msgpack:"result"`
	Error  *ReplyError `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ReplyError is the structured failure returned to the host.
type ReplyError struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// EventArgs is the payload of a platformEvent.
type EventArgs struct {
	Name string `json:"name" msgpack:"name"`
	Data any    `json:"data" msgpack:"data"`
}

// EventMessage is an outbound platformEvent.
type EventMessage struct {
	Method string    `json:"method" msgpack:"method"`
	Args   EventArgs `json:"args" msgpack:"args"`
}

func newEvent(name string, data any) EventMessage {
	return EventMessage{
		Method: MethodPlatformEvent,
		Args:   EventArgs{Name: name, Data: data},
	}
}
