package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("raw db: %v", err)
	}
	// A pooled second connection would see its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustPrincipal(test *testing.T, raw string) crowdfund.Principal {
	test.Helper()
	principal, err := crowdfund.NewPrincipal(raw)
	if err != nil {
		test.Fatalf("principal %q: %v", raw, err)
	}
	return principal
}

func mustCampaignID(test *testing.T, raw int64) crowdfund.CampaignID {
	test.Helper()
	campaignID, err := crowdfund.NewCampaignID(raw)
	if err != nil {
		test.Fatalf("campaign id %d: %v", raw, err)
	}
	return campaignID
}

func mustCampaign(test *testing.T, id int64, creator string, goal int64, startAt int64, endAt int64, total int64, claimed bool) crowdfund.Campaign {
	test.Helper()
	goalCents, err := crowdfund.NewGoalCents(goal)
	if err != nil {
		test.Fatalf("goal: %v", err)
	}
	totalCents, err := crowdfund.NewAmountCents(total)
	if err != nil {
		test.Fatalf("total: %v", err)
	}
	campaign, err := crowdfund.NewCampaign(mustCampaignID(test, id), mustPrincipal(test, creator), goalCents, startAt, endAt, totalCents, claimed)
	if err != nil {
		test.Fatalf("campaign: %v", err)
	}
	return campaign
}

func TestAllocateCampaignIDSequence(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	next, err := store.PeekNextCampaignID(ctx)
	if err != nil {
		test.Fatalf("peek: %v", err)
	}
	if next != 1 {
		test.Fatalf("expected fresh counter to peek 1, got %d", next)
	}

	for expected := int64(1); expected <= 3; expected++ {
		allocated, err := store.AllocateCampaignID(ctx)
		if err != nil {
			test.Fatalf("allocate: %v", err)
		}
		if allocated.Int64() != expected {
			test.Fatalf("expected id %d, got %d", expected, allocated.Int64())
		}
	}

	next, err = store.PeekNextCampaignID(ctx)
	if err != nil {
		test.Fatalf("peek: %v", err)
	}
	if next != 4 {
		test.Fatalf("expected next id 4, got %d", next)
	}
}

func TestCampaignLifecycle(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	campaign := mustCampaign(test, 1, "alice", 100, 1000, 2000, 0, false)

	if err := store.CreateCampaign(ctx, campaign); err != nil {
		test.Fatalf("create: %v", err)
	}

	loaded, err := store.GetCampaign(ctx, campaign.ID())
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Creator().String() != "alice" || loaded.GoalCents().Int64() != 100 {
		test.Fatalf("unexpected campaign: %+v", loaded)
	}
	if loaded.StartAtUnixUTC() != 1000 || loaded.EndAtUnixUTC() != 2000 {
		test.Fatalf("window not preserved: %d..%d", loaded.StartAtUnixUTC(), loaded.EndAtUnixUTC())
	}

	if err := store.UpdateCampaignTotal(ctx, campaign.ID(), 75); err != nil {
		test.Fatalf("update total: %v", err)
	}
	loaded, err = store.GetCampaignForUpdate(ctx, campaign.ID())
	if err != nil {
		test.Fatalf("get for update: %v", err)
	}
	if loaded.TotalContributionCents() != 75 {
		test.Fatalf("expected total 75, got %d", loaded.TotalContributionCents())
	}

	if err := store.DeleteCampaign(ctx, campaign.ID()); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if _, err := store.GetCampaign(ctx, campaign.ID()); !errors.Is(err, crowdfund.ErrCampaignNotFound) {
		test.Fatalf("expected ErrCampaignNotFound after delete, got %v", err)
	}
	if err := store.DeleteCampaign(ctx, campaign.ID()); !errors.Is(err, crowdfund.ErrCampaignNotFound) {
		test.Fatalf("expected ErrCampaignNotFound on repeat delete, got %v", err)
	}
	if err := store.UpdateCampaignTotal(ctx, campaign.ID(), 10); !errors.Is(err, crowdfund.ErrCampaignNotFound) {
		test.Fatalf("expected ErrCampaignNotFound on update of missing row, got %v", err)
	}
}

func TestMarkClaimedFlipsOnce(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	campaign := mustCampaign(test, 1, "alice", 100, 1000, 2000, 150, false)
	if err := store.CreateCampaign(ctx, campaign); err != nil {
		test.Fatalf("create: %v", err)
	}

	if err := store.MarkClaimed(ctx, campaign.ID()); err != nil {
		test.Fatalf("mark claimed: %v", err)
	}
	loaded, err := store.GetCampaign(ctx, campaign.ID())
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if !loaded.Claimed() {
		test.Fatalf("expected claimed flag set")
	}

	if err := store.MarkClaimed(ctx, campaign.ID()); !errors.Is(err, crowdfund.ErrAlreadyClaimed) {
		test.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestPledgeUpsertAndSum(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	campaignID := mustCampaignID(test, 1)
	bob := mustPrincipal(test, "bob")
	carol := mustPrincipal(test, "carol")

	amount, err := store.GetPledge(ctx, campaignID, bob)
	if err != nil {
		test.Fatalf("get absent pledge: %v", err)
	}
	if amount != 0 {
		test.Fatalf("expected absent pledge to read zero, got %d", amount)
	}

	if err := store.PutPledge(ctx, campaignID, bob, 60); err != nil {
		test.Fatalf("put: %v", err)
	}
	if err := store.PutPledge(ctx, campaignID, bob, 45); err != nil {
		test.Fatalf("upsert: %v", err)
	}
	if err := store.PutPledge(ctx, campaignID, carol, 30); err != nil {
		test.Fatalf("put: %v", err)
	}
	if err := store.PutPledge(ctx, mustCampaignID(test, 2), carol, 999); err != nil {
		test.Fatalf("put other campaign: %v", err)
	}

	amount, err = store.GetPledge(ctx, campaignID, bob)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if amount != 45 {
		test.Fatalf("expected upserted pledge 45, got %d", amount)
	}

	sum, err := store.SumPledges(ctx, campaignID)
	if err != nil {
		test.Fatalf("sum: %v", err)
	}
	if sum != 75 {
		test.Fatalf("expected pledge sum 75, got %d", sum)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	campaign := mustCampaign(test, 1, "alice", 100, 1000, 2000, 0, false)
	abort := errors.New("abort")

	err := store.WithTx(ctx, func(ctx context.Context, txStore crowdfund.Store) error {
		if err := txStore.CreateCampaign(ctx, campaign); err != nil {
			return err
		}
		if _, err := txStore.AllocateCampaignID(ctx); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		test.Fatalf("expected abort error, got %v", err)
	}

	if _, err := store.GetCampaign(ctx, campaign.ID()); !errors.Is(err, crowdfund.ErrCampaignNotFound) {
		test.Fatalf("expected rolled-back campaign to be absent, got %v", err)
	}
	next, err := store.PeekNextCampaignID(ctx)
	if err != nil {
		test.Fatalf("peek: %v", err)
	}
	if next != 1 {
		test.Fatalf("expected counter rolled back to 1, got %d", next)
	}
}

func TestListCampaignsPagination(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	for id := int64(1); id <= 5; id++ {
		campaign := mustCampaign(test, id, "alice", 100, 1000, 2000, 0, false)
		if err := store.CreateCampaign(ctx, campaign); err != nil {
			test.Fatalf("create %d: %v", id, err)
		}
	}

	page, err := store.ListCampaigns(ctx, 0, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID().Int64() != 5 || page[1].ID().Int64() != 4 {
		test.Fatalf("expected ids [5 4], got %v", page)
	}

	page, err = store.ListCampaigns(ctx, 4, 10)
	if err != nil {
		test.Fatalf("list before: %v", err)
	}
	if len(page) != 3 || page[0].ID().Int64() != 3 {
		test.Fatalf("expected ids below 4 newest first, got %v", page)
	}
}

func TestAppendEventJournalsNotification(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	notification := crowdfund.Notification{
		NotificationID:    "9e107d9d-0000-0000-0000-000000000000",
		Kind:              crowdfund.NotificationContribute,
		CampaignID:        mustCampaignID(test, 1),
		Actor:             mustPrincipal(test, "bob"),
		AmountCents:       60,
		OccurredAtUnixUTC: 1500,
	}
	if err := store.AppendEvent(ctx, notification); err != nil {
		test.Fatalf("append: %v", err)
	}

	var events []CampaignEvent
	if err := store.db.Find(&events).Error; err != nil {
		test.Fatalf("read events: %v", err)
	}
	if len(events) != 1 {
		test.Fatalf("expected one event, got %d", len(events))
	}
	event := events[0]
	if event.EventID != notification.NotificationID || event.Kind != "contribute" || event.CampaignID != 1 || event.Actor != "bob" {
		test.Fatalf("unexpected event row: %+v", event)
	}
}
