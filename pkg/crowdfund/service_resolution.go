package crowdfund

import (
	"context"

	"github.com/google/uuid"
)

// ClaimFunds pays the pooled total to the creator of a campaign that reached
// its goal. The claimed flag flips exactly once; a second claim fails with
// ErrAlreadyClaimed. Pledge entries are left untouched: the refund path is
// structurally unreachable once the goal is met.
func (service *Service) ClaimFunds(ctx context.Context, caller Principal, campaignID CampaignID) error {
	nowUnixUTC := service.nowFn()
	var notification Notification
	var paidCents AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		campaign, err := transactionStore.GetCampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Creator() != caller {
			return ErrNotCreator
		}
		if !campaign.HasEnded(nowUnixUTC) {
			return ErrNotEnded
		}
		if !campaign.GoalReached() {
			return ErrGoalNotReached
		}
		if campaign.Claimed() {
			return ErrAlreadyClaimed
		}
		if err := transactionStore.MarkClaimed(ctx, campaignID); err != nil {
			return err
		}
		paidCents = campaign.TotalContributionCents()
		notification = Notification{
			NotificationID:    uuid.NewString(),
			Kind:              NotificationClaim,
			CampaignID:        campaignID,
			Actor:             caller,
			AmountCents:       paidCents,
			OccurredAtUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.AppendEvent(ctx, notification); err != nil {
			return err
		}
		return service.transfers.MoveOut(ctx, caller, paidCents)
	})
	if operationError == nil {
		service.notify(ctx, notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationClaim,
		Actor:       caller,
		CampaignID:  campaignID,
		AmountCents: paidCents,
		Error:       operationError,
	})
	return operationError
}

// GetRefund returns the caller's full pledge after an unsuccessful campaign
// ends. The entry is zeroed exactly once; a repeat call finds nothing at
// stake and fails with ErrNoContribution.
func (service *Service) GetRefund(ctx context.Context, caller Principal, campaignID CampaignID) error {
	nowUnixUTC := service.nowFn()
	var notification Notification
	var refundedCents AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		campaign, err := transactionStore.GetCampaignForUpdate(ctx, campaignID)
		if err != nil {
			return err
		}
		if !campaign.HasEnded(nowUnixUTC) {
			return ErrNotEnded
		}
		if campaign.GoalReached() {
			return ErrGoalReached
		}
		pledge, err := transactionStore.GetPledge(ctx, campaignID, caller)
		if err != nil {
			return err
		}
		if pledge == 0 {
			return ErrNoContribution
		}
		if err := transactionStore.PutPledge(ctx, campaignID, caller, 0); err != nil {
			return err
		}
		if err := transactionStore.UpdateCampaignTotal(ctx, campaignID, campaign.TotalContributionCents()-pledge); err != nil {
			return err
		}
		refundedCents = pledge
		notification = Notification{
			NotificationID:    uuid.NewString(),
			Kind:              NotificationRefund,
			CampaignID:        campaignID,
			Actor:             caller,
			AmountCents:       pledge,
			OccurredAtUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.AppendEvent(ctx, notification); err != nil {
			return err
		}
		return service.transfers.MoveOut(ctx, caller, pledge)
	})
	if operationError == nil {
		service.notify(ctx, notification)
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationRefund,
		Actor:       caller,
		CampaignID:  campaignID,
		AmountCents: refundedCents,
		Error:       operationError,
	})
	return operationError
}

// Campaign returns the stored campaign record.
func (service *Service) Campaign(ctx context.Context, campaignID CampaignID) (Campaign, error) {
	return service.store.GetCampaign(ctx, campaignID)
}

// PledgeAmount returns what the contributor currently has at stake in the
// campaign. Absent entries read as zero.
func (service *Service) PledgeAmount(ctx context.Context, campaignID CampaignID, contributor Principal) (AmountCents, error) {
	return service.store.GetPledge(ctx, campaignID, contributor)
}

// NextCampaignID returns the identifier the next launch will be assigned.
func (service *Service) NextCampaignID(ctx context.Context) (int64, error) {
	return service.store.PeekNextCampaignID(ctx)
}

// ListCampaigns lists campaign records with ids below beforeID, newest first.
// A beforeID of zero lists from the most recent campaign.
func (service *Service) ListCampaigns(ctx context.Context, beforeID int64, limit int) ([]Campaign, error) {
	return service.store.ListCampaigns(ctx, beforeID, limit)
}
