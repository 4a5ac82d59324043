package core

type EventType string

const (
	EventCommandRequest EventType = "command.request"
	EventCommandResult  EventType = "command.result"
	EventStatus         EventType = "link.status"
	EventTelemetry      EventType = "link.telemetry"
	EventParameters     EventType = "link.parameters"
)
