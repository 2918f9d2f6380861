package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	campaignCounterID = "campaign"

	errorOperationStore     = "store"
	errorSubjectCampaign    = "campaign"
	errorSubjectCounter     = "counter"
	errorSubjectPledge      = "pledge"
	errorSubjectEvent       = "event"
	errorSubjectTransaction = "transaction"
	errorCodeAllocate       = "allocate"
	errorCodeAppend         = "append"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
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

	defaultListLimit = 50

	sqlAllocateCampaignID = `
		insert into campaign_counters(counter_id, next_id) values($1, 2)
		on conflict (counter_id) do update set next_id = campaign_counters.next_id + 1
		returning next_id - 1
	`

	sqlPeekNextCampaignID = `
		select coalesce((select next_id from campaign_counters where counter_id = $1), 1)
	`

	sqlInsertCampaign = `
		insert into campaigns(campaign_id, creator, goal_cents, start_at, end_at, total_cents, claimed, created_at)
		values($1, $2, $3, to_timestamp($4), to_timestamp($5), $6, $7, now())
	`

	sqlSelectCampaign = `
		select campaign_id, creator, goal_cents,
			extract(epoch from start_at)::bigint,
			extract(epoch from end_at)::bigint,
			total_cents, claimed
		from campaigns
		where campaign_id = $1
	`

	sqlSelectCampaignForUpdate = sqlSelectCampaign + ` for update`

	sqlDeleteCampaign = `
		delete from campaigns where campaign_id = $1
	`

	sqlUpdateCampaignTotal = `
		update campaigns set total_cents = $2 where campaign_id = $1
	`

	sqlMarkClaimed = `
		update campaigns set claimed = true where campaign_id = $1 and claimed = false
	`

	sqlSelectPledge = `
		select coalesce((
			select amount_cents from pledges
			where campaign_id = $1 and contributor = $2
		), 0)
	`

	sqlUpsertPledge = `
		insert into pledges(campaign_id, contributor, amount_cents, created_at, updated_at)
		values($1, $2, $3, now(), now())
		on conflict (campaign_id, contributor)
		do update set amount_cents = excluded.amount_cents, updated_at = now()
	`

	sqlSumPledges = `
		select coalesce(sum(amount_cents), 0) from pledges where campaign_id = $1
	`

	sqlListCampaigns = `
		select campaign_id, creator, goal_cents,
			extract(epoch from start_at)::bigint,
			extract(epoch from end_at)::bigint,
			total_cents, claimed
		from campaigns
		where ($1 = 0 or campaign_id < $1)
		order by campaign_id desc
		limit $2
	`

	sqlInsertEvent = `
		insert into campaign_events(event_id, kind, campaign_id, actor, payload, occurred_at)
		values($1, $2, $3, $4, $5::jsonb, to_timestamp($6))
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements crowdfund.Store using a pgx connection pool (autocommit
// outside WithTx).
type Store struct {
	pool    *pgxpool.Pool
	querier querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, querier: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore crowdfund.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{pool: store.pool, querier: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) AllocateCampaignID(ctx context.Context) (crowdfund.CampaignID, error) {
	var allocated int64
	if err := store.querier.QueryRow(ctx, sqlAllocateCampaignID, campaignCounterID).Scan(&allocated); err != nil {
		return crowdfund.CampaignID{}, wrapStoreError(errorSubjectCounter, errorCodeAllocate, err)
	}
	campaignID, err := crowdfund.NewCampaignID(allocated)
	if err != nil {
		return crowdfund.CampaignID{}, wrapStoreError(errorSubjectCounter, errorCodeInvalid, err)
	}
	return campaignID, nil
}

func (store *Store) PeekNextCampaignID(ctx context.Context) (int64, error) {
	var next int64
	if err := store.querier.QueryRow(ctx, sqlPeekNextCampaignID, campaignCounterID).Scan(&next); err != nil {
		return 0, wrapStoreError(errorSubjectCounter, errorCodePeek, err)
	}
	return next, nil
}

func (store *Store) CreateCampaign(ctx context.Context, campaign crowdfund.Campaign) error {
	_, err := store.querier.Exec(ctx, sqlInsertCampaign,
		campaign.ID().Int64(),
		campaign.Creator().String(),
		campaign.GoalCents().Int64(),
		campaign.StartAtUnixUTC(),
		campaign.EndAtUnixUTC(),
		campaign.TotalContributionCents().Int64(),
		campaign.Claimed(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetCampaign(ctx context.Context, campaignID crowdfund.CampaignID) (crowdfund.Campaign, error) {
	return store.scanCampaign(store.querier.QueryRow(ctx, sqlSelectCampaign, campaignID.Int64()))
}

func (store *Store) GetCampaignForUpdate(ctx context.Context, campaignID crowdfund.CampaignID) (crowdfund.Campaign, error) {
	return store.scanCampaign(store.querier.QueryRow(ctx, sqlSelectCampaignForUpdate, campaignID.Int64()))
}

func (store *Store) scanCampaign(row pgx.Row) (crowdfund.Campaign, error) {
	var (
		idValue      int64
		creatorValue string
		goalValue    int64
		startValue   int64
		endValue     int64
		totalValue   int64
		claimedValue bool
	)
	err := row.Scan(&idValue, &creatorValue, &goalValue, &startValue, &endValue, &totalValue, &claimedValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return crowdfund.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeGet, crowdfund.ErrCampaignNotFound)
	}
	if err != nil {
		return crowdfund.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeGet, err)
	}
	campaign, err := mapCampaign(idValue, creatorValue, goalValue, startValue, endValue, totalValue, claimedValue)
	if err != nil {
		return crowdfund.Campaign{}, wrapStoreError(errorSubjectCampaign, errorCodeInvalid, err)
	}
	return campaign, nil
}

func (store *Store) DeleteCampaign(ctx context.Context, campaignID crowdfund.CampaignID) error {
	tag, err := store.querier.Exec(ctx, sqlDeleteCampaign, campaignID.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeDelete, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeDelete, crowdfund.ErrCampaignNotFound)
	}
	return nil
}

func (store *Store) UpdateCampaignTotal(ctx context.Context, campaignID crowdfund.CampaignID, totalCents crowdfund.AmountCents) error {
	tag, err := store.querier.Exec(ctx, sqlUpdateCampaignTotal, campaignID.Int64(), totalCents.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeUpdateTotal, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeUpdateTotal, crowdfund.ErrCampaignNotFound)
	}
	return nil
}

func (store *Store) MarkClaimed(ctx context.Context, campaignID crowdfund.CampaignID) error {
	tag, err := store.querier.Exec(ctx, sqlMarkClaimed, campaignID.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectCampaign, errorCodeMarkClaimed, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCampaign, errorCodeMarkClaimed, crowdfund.ErrAlreadyClaimed)
	}
	return nil
}

func (store *Store) GetPledge(ctx context.Context, campaignID crowdfund.CampaignID, contributor crowdfund.Principal) (crowdfund.AmountCents, error) {
	var amountValue int64
	if err := store.querier.QueryRow(ctx, sqlSelectPledge, campaignID.Int64(), contributor.String()).Scan(&amountValue); err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeGet, err)
	}
	amount, err := crowdfund.NewAmountCents(amountValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeInvalid, err)
	}
	return amount, nil
}

func (store *Store) PutPledge(ctx context.Context, campaignID crowdfund.CampaignID, contributor crowdfund.Principal, amountCents crowdfund.AmountCents) error {
	_, err := store.querier.Exec(ctx, sqlUpsertPledge, campaignID.Int64(), contributor.String(), amountCents.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectPledge, errorCodePut, err)
	}
	return nil
}

func (store *Store) SumPledges(ctx context.Context, campaignID crowdfund.CampaignID) (crowdfund.AmountCents, error) {
	var sumValue int64
	if err := store.querier.QueryRow(ctx, sqlSumPledges, campaignID.Int64()).Scan(&sumValue); err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeSum, err)
	}
	total, err := crowdfund.NewAmountCents(sumValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectPledge, errorCodeInvalid, err)
	}
	return total, nil
}

func (store *Store) ListCampaigns(ctx context.Context, beforeID int64, limit int) ([]crowdfund.Campaign, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := store.querier.Query(ctx, sqlListCampaigns, beforeID, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCampaign, errorCodeList, err)
	}
	defer rows.Close()

	var campaigns []crowdfund.Campaign
	for rows.Next() {
		var (
			idValue      int64
			creatorValue string
			goalValue    int64
			startValue   int64
			endValue     int64
			totalValue   int64
			claimedValue bool
		)
		if err := rows.Scan(&idValue, &creatorValue, &goalValue, &startValue, &endValue, &totalValue, &claimedValue); err != nil {
			return nil, wrapStoreError(errorSubjectCampaign, errorCodeList, err)
		}
		campaign, err := mapCampaign(idValue, creatorValue, goalValue, startValue, endValue, totalValue, claimedValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCampaign, errorCodeInvalid, err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCampaign, errorCodeList, err)
	}
	return campaigns, nil
}

func (store *Store) AppendEvent(ctx context.Context, notification crowdfund.Notification) error {
	payload, err := json.Marshal(map[string]int64{
		"amount_cents":      notification.AmountCents.Int64(),
		"goal_cents":        notification.GoalCents.Int64(),
		"start_at_unix_utc": notification.StartAtUnixUTC,
		"end_at_unix_utc":   notification.EndAtUnixUTC,
	})
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInvalid, err)
	}
	_, err = store.querier.Exec(ctx, sqlInsertEvent,
		notification.NotificationID,
		notification.Kind.String(),
		notification.CampaignID.Int64(),
		notification.Actor.String(),
		string(payload),
		notification.OccurredAtUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeAppend, err)
	}
	return nil
}

func mapCampaign(id int64, creator string, goal int64, startAt int64, endAt int64, total int64, claimed bool) (crowdfund.Campaign, error) {
	campaignID, err := crowdfund.NewCampaignID(id)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	creatorPrincipal, err := crowdfund.NewPrincipal(creator)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	goalCents, err := crowdfund.NewGoalCents(goal)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	totalCents, err := crowdfund.NewAmountCents(total)
	if err != nil {
		return crowdfund.Campaign{}, err
	}
	return crowdfund.NewCampaign(campaignID, creatorPrincipal, goalCents, startAt, endAt, totalCents, claimed)
}

func wrapStoreError(subject string, code string, err error) error {
	return crowdfund.WrapError(errorOperationStore, subject, code, err)
}
