package crowdfund

import "context"

// NotificationKind enumerates the state changes a campaign can announce.
type NotificationKind string

const (
	NotificationLaunch     NotificationKind = "launch"
	NotificationCancel     NotificationKind = "cancel"
	NotificationContribute NotificationKind = "contribute"
	NotificationWithdraw   NotificationKind = "withdraw"
	NotificationClaim      NotificationKind = "claim"
	NotificationRefund     NotificationKind = "refund"
)

// String returns the wire form of the kind.
func (kind NotificationKind) String() string {
	return string(kind)
}

// Notification describes a single committed state change. Every successful
// operation emits exactly one; it is also journaled by the store so external
// observers can index campaign and pledge history.
type Notification struct {
	NotificationID    string
	Kind              NotificationKind
	CampaignID        CampaignID
	Actor             Principal
	AmountCents       AmountCents
	GoalCents         AmountCents
	StartAtUnixUTC    int64
	EndAtUnixUTC      int64
	OccurredAtUnixUTC int64
}

// Notifier receives notifications after the owning transaction commits.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithNotifier wires a notifier that receives every committed notification.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// OperationLogger records domain-level events emitted by Service operations,
// successful or not.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation attempt.
type OperationLog struct {
	Operation   string
	Actor       Principal
	CampaignID  CampaignID
	AmountCents AmountCents
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}
