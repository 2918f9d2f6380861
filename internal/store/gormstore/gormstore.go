package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/crowdfund/internal/store/dbtx"
	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	campaignCounterID       = "campaign"
	errorOperationStore     = "store"
	errorSubjectCampaign    = "campaign"
	errorSubjectCounter     = "counter"
	errorSubjectPledge      = "pledge"
	errorSubjectEvent       = "event"
	errorCodeAllocate       = "allocate"
	errorCodeAppend         = "append"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeGet            = "get"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMarkClaimed    = "mark_claimed"
	errorCodePeek           = "peek"
	errorCodePut            = "put"
	errorCodeSum            = "sum"
	errorCodeUpdateTotal    = "update_total"
	defaultListLimit        = 50
)

// Store implements crowdfund.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Intended for sqlite deployments; postgres
// schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Campaign{}, &Pledge{}, &CampaignCounter{}, &CampaignEvent{})
}

// WithTx executes fn within a transaction. The transaction also rides along
// in the context so gorm-backed collaborators called inside fn (the token
// service) join it instead of opening a second one on the same pool.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore crowdfund.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(dbtx.With(ctx, transaction), &Store{db: transaction})
	})
}

// AllocateCampaignID hands out the next sequential identifier, starting at 1.
// Identifiers are never reused, including after cancellation.
func (store *Store) AllocateCampaignID(ctx context.Context) (crowdfund.CampaignID, error) {
	var counter CampaignCounter
	err := store.withRowLock(store.db.WithContext(ctx)).
		Where(CampaignCounter{CounterID: campaignCounterID}).
		Attrs(CampaignCounter{NextID: 1}).
		FirstOrCreate(&counter).Error
	if err != nil {
		return crowdfund.CampaignID{}, wrapStoreError(errorSubjectCounter, errorCodeAllocate, err)
	}
	err = store.db.WithContext(ctx).
		Model(&CampaignCounter{}).
		Where("counter_id = ?", campaignCounterID).
		Update("next_id", counter.NextID+1).Error
	if err != nil {
		return crowdfund.CampaignID{}, wrapStoreError(errorSubjectCounter, errorCodeAllocate, err)
	}
	campaignID, err := crowdfund.NewCampaignID(counter.NextID)
	if err != nil {
		return crowdfund.CampaignID{}, wrapStoreError(errorSubjectCounter, errorCodeInvalid, err)
	}
	return campaignID, nil
}

// PeekNextCampaignID reads the counter without advancing it.
func (store *Store) PeekNextCampaignID(ctx context.Context) (int64, error) {
	var counter CampaignCounter
	err := store.db.WithContext(ctx).
		Where("counter_id = ?", campaignCounterID).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectCounter, errorCodePeek, err)
	}
	return counter.NextID, nil
}

func (store *Store) CreateCampaign(ctx context.Context, campaign crowdfund.Campaign) error {
	model := Campaign{
		CampaignID: campaign.ID().Int64(),
		Creator:    campaign.Creator().String(),
		GoalCents:  campaign.GoalCents().Int64(),
		StartAt:    time.Unix(campaign.StartAtUnixUTC(), 0).UTC(),
		EndAt:      time.Unix(campaign.EndAtUnixUTC(), 0).UTC(),
		TotalCents: campaign.TotalContributionCents().Int64(),
		Claimed:    campaign.Claimed(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCampaign(ctx context.Context, campaignID crowdfund.CampaignID) (crowdfund.Campaign, error) {
	return store.getCampaign(ctx, campaignID, false)
}

func (store *Store) GetCampaignForUpdate(ctx context.Context, campaignID crowdfund.CampaignID) (crowdfund.Campaign, error) {
	return store.getCampaign(ctx, campaignID, true)
}

func (store *Store) getCampaign(ctx context.Context, campaignID crowdfund.CampaignID, locked bool) (crowdfund.Campaign, error) {
	query := store.db.WithContext(ctx)
	if locked {
		query = store.withRowLock(query)
	}
	var model Campaign
	err := query.Where("campaign_id = ?", campaignID.Int64()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return crowdfund.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeGet, crowdfund.ErrCampaignNotFound)
	}
	if err != nil {
		return crowdfund.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeGet, err)
	}
	campaign, err := mapCampaign(model)
	if err != nil {
		return crowdfund.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeInvalid, err)
	}
	return campaign, nil
}

func (store *Store) DeleteCampaign(ctx context.Context, campaignID crowdfund.CampaignID) error {
	result := store.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID.Int64()).
		Delete(&Campaign{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeDelete, crowdfund.ErrCampaignNotFound)
	}
	return nil
}

func (store *Store) UpdateCampaignTotal(ctx context.Context, campaignID crowdfund.CampaignID, totalCents crowdfund.AmountCents) error {
	result := store.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("campaign_id = ?", campaignID.Int64()).
		Update("total_cents", totalCents.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeUpdateTotal, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeUpdateTotal, crowdfund.ErrCampaignNotFound)
	}
	return nil
}

// MarkClaimed flips the claimed flag from false to true. A zero row count
// means the flag was already set.
func (store *Store) MarkClaimed(ctx context.Context, campaignID crowdfund.CampaignID) error {
	result := store.db.WithContext(ctx).
		Model(&Campaign{}).
		Where("campaign_id = ? AND claimed = ?", campaignID.Int64(), false).
		Update("claimed", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeMarkClaimed, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeMarkClaimed, crowdfund.ErrAlreadyClaimed)
	}
	return nil
}

func (store *Store) GetPledge(ctx context.Context, campaignID crowdfund.CampaignID, contributor crowdfund.Principal) (crowdfund.AmountCents, error) {
	var model Pledge
	err := store.db.WithContext(ctx).
		Where("campaign_id = ? AND contributor = ?", campaignID.Int64(), contributor.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeGet, err)
	}
	amount, err := crowdfund.NewAmountCents(model.AmountCents)
	if err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeInvalid, err)
	}
	return amount, nil
}

func (store *Store) PutPledge(ctx context.Context, campaignID crowdfund.CampaignID, contributor crowdfund.Principal, amountCents crowdfund.AmountCents) error {
	pledge := Pledge{
		CampaignID:  campaignID.Int64(),
		Contributor: contributor.String(),
		AmountCents: amountCents.Int64(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "contributor"}},
			DoUpdates: clause.AssignmentColumns([]string{"amount_cents", "updated_at"}),
		}).
		Create(&pledge).Error
	if err != nil {
		return wrapStoreError(errorSubjectPledge, errorCodePut, err)
	}
	return nil
}

func (store *Store) SumPledges(ctx context.Context, campaignID crowdfund.CampaignID) (crowdfund.AmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Pledge{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("campaign_id = ?", campaignID.Int64()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeSum, err)
	}
	total, err := crowdfund.NewAmountCents(sum.Total)
	if err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeInvalid, err)
	}
	return total, nil
}

func (store *Store) ListCampaigns(ctx context.Context, beforeID int64, limit int) ([]crowdfund.Campaign, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := store.db.WithContext(ctx).Order("campaign_id DESC").Limit(limit)
	if beforeID > 0 {
		query = query.Where("campaign_id < ?", beforeID)
	}
	var rows []Campaign
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectCampaign, errorCodeList, err)
	}
	campaigns := make([]crowdfund.Campaign, 0, len(rows))
	for _, row := range rows {
		campaign, err := mapCampaign(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCampaign, errorCodeInvalid, err)
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

func (store *Store) AppendEvent(ctx context.Context, notification crowdfund.Notification) error {
	payload, err := json.Marshal(eventPayload{
		AmountCents:    notification.AmountCents.Int64(),
		GoalCents:      notification.GoalCents.Int64(),
		StartAtUnixUTC: notification.StartAtUnixUTC,
		EndAtUnixUTC:   notification.EndAtUnixUTC,
	})
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInvalid, err)
	}
	event := CampaignEvent{
		EventID:    notification.NotificationID,
		Kind:       notification.Kind.String(),
		CampaignID: notification.CampaignID.Int64(),
		Actor:      notification.Actor.String(),
		Payload:    datatypes.JSON(payload),
		OccurredAt: time.Unix(notification.OccurredAtUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&event).Error; err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeAppend, err)
	}
	return nil
}

type eventPayload struct {
	AmountCents    int64 `json:"amount_cents"`
	GoalCents      int64 `json:"goal_cents,omitempty"`
	StartAtUnixUTC int64 `json:"start_at_unix_utc,omitempty"`
	EndAtUnixUTC   int64 `json:"end_at_unix_utc,omitempty"`
}

type sqlSum struct {
	Total int64
}

func mapCampaign(row Campaign) (crowdfund.Campaign, error) {
	campaignID, err := crowdfund.NewCampaignID(row.CampaignID)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	creator, err := crowdfund.NewPrincipal(row.Creator)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	goalCents, err := crowdfund.NewGoalCents(row.GoalCents)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	totalCents, err := crowdfund.NewAmountCents(row.TotalCents)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	return crowdfund.NewCampaign(
		campaignID,
		creator,
		goalCents,
		row.StartAt.Unix(),
		row.EndAt.Unix(),
		totalCents,
		row.Claimed,
	)
}

// withRowLock adds FOR UPDATE on dialects that support it. SQLite serializes
// writers on its own and rejects the clause.
func (store *Store) withRowLock(query *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == "sqlite" {
		return query
	}
	return query.Clauses(clause.Locking{Strength: "UPDATE"})
}

func wrapStoreError(subject string, code string, err error) error {
	return crowdfund.WrapError(errorOperationStore, subject, code, err)
}
