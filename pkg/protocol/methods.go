// Package protocol defines the wire-level constants shared by the gateway's
// HTTP and WebSocket surfaces: RPC method names, event kinds, and the
// protocol version exchanged on WebSocket connect.
package protocol

// ProtocolVersion is bumped whenever the WS frame shapes change incompatibly.
const ProtocolVersion = 1

// HTTP method identifiers, matching the §6 endpoint table. These are used
// as metric/log labels and as RPC method names on the WebSocket surface's
// `get_stats`/`subscribe` bookkeeping.
const (
	MethodHealth       = "system.health"
	MethodStatus       = "system.status"
	MethodStats        = "system.stats"
	MethodChatSend     = "chat.messages.send"
	MethodChatList     = "chat.messages.list"
	MethodConvCreate   = "chat.conversations.create"
	MethodConvList     = "chat.conversations.list"
	MethodConvGet      = "chat.conversations.get"
	MethodModelLoad    = "models.load"
	MethodModelUnload  = "models.unload"
	MethodModelsList   = "models.list"
	MethodKernelStart  = "kernels.start"
	MethodKernelStop   = "kernels.stop"
	MethodKernelsList  = "kernels.list"
	MethodKernelTask   = "kernels.tasks.create"
	MethodEventsStream = "events.stream"
	MethodEventsEmit   = "events.emit"
	MethodLogsAppend   = "logs.append"
	MethodLogsList     = "logs.list"

	MethodCheckpointCreate  = "checkpoint.create"
	MethodCheckpointRestore = "checkpoint.restore"
)

// WebSocket client→server frame types.
const (
	FrameSubscribe   = "subscribe"
	FramePing        = "ping"
	FrameGetHistory  = "get_history"
	FrameGetStats    = "get_stats"
)

// WebSocket server→client frame types.
const (
	FrameEvent     = "event"
	FramePong      = "pong"
	FrameHeartbeat = "heartbeat"
)
