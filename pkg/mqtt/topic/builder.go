package topic

import (
	"fmt"
)

// Topic suffixes shared by the groundlink and its remote operators.
const (
	// SuffixCommand carries operator command requests (Operator -> Groundlink).
	// Structure: {root}/command/{linkID}
	SuffixCommand = "command"

	// SuffixCommandResult carries terminal command outcomes (Groundlink -> Operator).
	// Structure: {root}/command/result/{linkID}
	SuffixCommandResult = "command/result"

	// SuffixStatus carries the retained link phase and the online/offline will.
	// Structure: {root}/status/{linkID}
	SuffixStatus = "status"

	// SuffixTelemetry carries periodic session snapshots.
	// Structure: {root}/telemetry/{linkID}
	SuffixTelemetry = "telemetry"

	// SuffixParameters carries the retained full parameter set after each fetch.
	// Structure: {root}/parameters/{linkID}
	SuffixParameters = "parameters"
)

// TopicBuilder constructs topic strings under one root namespace.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g. "groundlink/v1").
	root string
}

func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

func (b *TopicBuilder) Command(linkID string) string {
	return b.build(SuffixCommand, linkID)
}

// CommandWildcard matches command requests for every link.
func (b *TopicBuilder) CommandWildcard() string {
	return b.build(SuffixCommand, Wildcard)
}

func (b *TopicBuilder) CommandResult(linkID string) string {
	return b.build(SuffixCommandResult, linkID)
}

func (b *TopicBuilder) Status(linkID string) string {
	return b.build(SuffixStatus, linkID)
}

func (b *TopicBuilder) Telemetry(linkID string) string {
	return b.build(SuffixTelemetry, linkID)
}

func (b *TopicBuilder) Parameters(linkID string) string {
	return b.build(SuffixParameters, linkID)
}

// All matches every topic under the root.
func (b *TopicBuilder) All() string {
	return fmt.Sprintf("%s/%s", b.root, MultiWildcard)
}

// build returns {root}/{suffix}/{id}.
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
