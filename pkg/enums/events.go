package enums

import "slices"

type OutboxAggregateType string

const AggregateProposal OutboxAggregateType = "proposal"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateProposal }

type OutboxEventType string

const (
	EventProposalApproved OutboxEventType = "proposal_approved"
	EventProposalRejected OutboxEventType = "proposal_rejected"
)

var outboxEventTypes = []OutboxEventType{EventProposalApproved, EventProposalRejected}

func (e OutboxEventType) IsValid() bool { return slices.Contains(outboxEventTypes, e) }

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return parse("event type", raw, outboxEventTypes)
}

// OutboxDLQErrorReason records why the publisher gave up on an outbox row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}

type NotificationType string

const (
	NotificationTypeProposalApproved NotificationType = "proposal_approved"
	NotificationTypeProposalRejected NotificationType = "proposal_rejected"
)

// NotificationTypeForEvent maps an outcome event onto the notification it produces.
func NotificationTypeForEvent(event OutboxEventType) (NotificationType, bool) {
	switch event {
	case EventProposalApproved:
		return NotificationTypeProposalApproved, true
	case EventProposalRejected:
		return NotificationTypeProposalRejected, true
	}
	return "", false
}
