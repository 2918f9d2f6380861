package crowdfund

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the campaign ledger domain logic over a Store. Funds
// custody is delegated to a TransferService; the transfer call is always the
// last step inside the transaction that can fail, so a rejected transfer
// rolls back the accounting with it.
type Service struct {
	store     Store
	transfers TransferService
	nowFn     func() int64
	notifier  Notifier
	logger    OperationLogger
}

// NewService wires a Service.
func NewService(store Store, transfers TransferService, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if transfers == nil {
		return nil, fmt.Errorf("%w: transfer service dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, transfers: transfers, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Launch registers a new campaign and returns its sequential identifier.
func (service *Service) Launch(ctx context.Context, creator Principal, goal GoalCents, startAtUnixUTC int64, endAtUnixUTC int64) (CampaignID, error) {
	nowUnixUTC := service.nowFn()
	var campaignID CampaignID
	var notification Notification
	operationError := func() error {
		if startAtUnixUTC < nowUnixUTC {
			return fmt.Errorf("%w: start before now", ErrInvalidWindow)
		}
		if endAtUnixUTC < startAtUnixUTC {
			return fmt.Errorf("%w: end before start", ErrInvalidWindow)
		}
		if endAtUnixUTC > nowUnixUTC+maxCampaignDurationSeconds {
			return fmt.Errorf("%w: end beyond maximum duration", ErrInvalidWindow)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			allocatedID, err := transactionStore.AllocateCampaignID(ctx)
			if err != nil {
				return err
			}
			campaign, err := NewCampaign(allocatedID, creator, goal, startAtUnixUTC, endAtUnixUTC, 0, false)
			if err != nil {
				return err
			}
			if err := transactionStore.CreateCampaign(ctx, campaign); err != nil {
				return err
			}
			campaignID = allocatedID
			notification = Notification{
				NotificationID:    uuid.NewString(),
				Kind:              NotificationLaunch,
				CampaignID:        allocatedID,
				Actor:             creator,
				GoalCents:         goal.ToAmountCents(),
				StartAtUnixUTC:    startAtUnixUTC,
				EndAtUnixUTC:      endAtUnixUTC,
				OccurredAtUnixUTC: nowUnixUTC,
			}
			return transactionStore.AppendEvent(ctx, notification)
		})
	}()
	if operationError == nil {
		service.notify(ctx, notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationLaunch,
		Actor:       creator,
		CampaignID:  campaignID,
		AmountCents: goal.ToAmountCents(),
		Error:       operationError,
	})
	if operationError != nil {
		return CampaignID{}, operationError
	}
	return campaignID, nil
}

// Cancel removes a campaign before its window opens. Only the creator may
// cancel, and only strictly before startAt; pledges cannot exist yet.
func (service *Service) Cancel(ctx context.Context, caller Principal, campaignID CampaignID) error {
	nowUnixUTC := service.nowFn()
	var notification Notification
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		campaign, err := transactionStore.GetCampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Creator() != caller {
			return ErrNotCreator
		}
		if campaign.HasStarted(nowUnixUTC) {
			return ErrAlreadyStarted
		}
		if err := transactionStore.DeleteCampaign(ctx, campaignID); err != nil {
			return err
		}
		notification = Notification{
			NotificationID:    uuid.NewString(),
			Kind:              NotificationCancel,
			CampaignID:        campaignID,
			Actor:             caller,
			OccurredAtUnixUTC: nowUnixUTC,
		}
		return transactionStore.AppendEvent(ctx, notification)
	})
	if operationError == nil {
		service.notify(ctx, notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationCancel,
		Actor:      caller,
		CampaignID: campaignID,
		Error:      operationError,
	})
	return operationError
}

// Contribute increases the caller's pledge while the campaign window is open
// and pulls the amount into ledger custody.
func (service *Service) Contribute(ctx context.Context, caller Principal, campaignID CampaignID, amount PositiveAmountCents) error {
	nowUnixUTC := service.nowFn()
	var notification Notification
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		campaign, err := transactionStore.GetCampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if !campaign.HasStarted(nowUnixUTC) {
			return ErrNotStarted
		}
		if campaign.HasEnded(nowUnixUTC) {
			return ErrEnded
		}
		pledge, err := transactionStore.GetPledge(ctx, campaignID, caller)
		if err != nil {
			return err
		}
		if err := transactionStore.PutPledge(ctx, campaignID, caller, pledge+amount.ToAmountCents()); err != nil {
			return err
		}
		if err := transactionStore.UpdateCampaignTotal(ctx, campaignID, campaign.TotalContributionCents()+amount.ToAmountCents()); err != nil {
			return err
		}
		notification = Notification{
			NotificationID:    uuid.NewString(),
			Kind:              NotificationContribute,
			CampaignID:        campaignID,
			Actor:             caller,
			AmountCents:       amount.ToAmountCents(),
			OccurredAtUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.AppendEvent(ctx, notification); err != nil {
			return err
		}
		return service.transfers.MoveIn(ctx, caller, amount.ToAmountCents())
	})
	if operationError == nil {
		service.notify(ctx, notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationContribute,
		Actor:       caller,
		CampaignID:  campaignID,
		AmountCents: amount.ToAmountCents(),
		Error:       operationError,
	})
	return operationError
}

// WithdrawPledge returns part of the caller's pledge while the campaign
// window is still open. This is the only way to reduce a pledge before
// resolution.
func (service *Service) WithdrawPledge(ctx context.Context, caller Principal, campaignID CampaignID, amount PositiveAmountCents) error {
	nowUnixUTC := service.nowFn()
	var notification Notification
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		campaign, err := transactionStore.GetCampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if !campaign.HasStarted(nowUnixUTC) {
			return ErrNotStarted
		}
		if campaign.HasEnded(nowUnixUTC) {
			return ErrEnded
		}
		pledge, err := transactionStore.GetPledge(ctx, campaignID, caller)
		if err != nil {
			return err
		}
		if pledge < amount.ToAmountCents() {
			return ErrInsufficientContribution
		}
		if err := transactionStore.PutPledge(ctx, campaignID, caller, pledge-amount.ToAmountCents()); err != nil {
			return err
		}
		if err := transactionStore.UpdateCampaignTotal(ctx, campaignID, campaign.TotalContributionCents()-amount.ToAmountCents()); err != nil {
			return err
		}
		notification = Notification{
			NotificationID:    uuid.NewString(),
			Kind:              NotificationWithdraw,
			CampaignID:        campaignID,
			Actor:             caller,
			AmountCents:       amount.ToAmountCents(),
			OccurredAtUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.AppendEvent(ctx, notification); err != nil {
			return err
		}
		return service.transfers.MoveOut(ctx, caller, amount.ToAmountCents())
	})
	if operationError == nil {
		service.notify(ctx, notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationWithdraw,
		Actor:       caller,
		CampaignID:  campaignID,
		AmountCents: amount.ToAmountCents(),
		Error:       operationError,
	})
	return operationError
}

func (service *Service) notify(ctx context.Context, notification Notification) {
	if service.notifier == nil {
		return
	}
	service.notifier.Notify(ctx, notification)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
