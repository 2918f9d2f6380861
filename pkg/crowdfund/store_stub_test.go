package crowdfund

import (
	"context"
	"testing"
)

type pledgeKey struct {
	campaignID  int64
	contributor string
}

type stubState struct {
	nextID    int64
	campaigns map[int64]Campaign
	pledges   map[pledgeKey]AmountCents
	events    []Notification
}

func newStubState() *stubState {
	return &stubState{
		nextID:    1,
		campaigns: make(map[int64]Campaign),
		pledges:   make(map[pledgeKey]AmountCents),
	}
}

func (state *stubState) clone() *stubState {
	copied := newStubState()
	copied.nextID = state.nextID
	for id, campaign := range state.campaigns {
		copied.campaigns[id] = campaign
	}
	for key, amount := range state.pledges {
		copied.pledges[key] = amount
	}
	copied.events = append(copied.events, state.events...)
	return copied
}

// stubStore keeps ledger state in memory with snapshot transactions: WithTx
// runs against a copy and publishes it only on success, mirroring the
// all-or-nothing semantics the real stores get from database transactions.
type stubStore struct {
	state *stubState

	allocateError    error
	createError      error
	getError         error
	deleteError      error
	updateTotalError error
	markClaimedError error
	getPledgeError   error
	putPledgeError   error
	appendEventError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{state: newStubState()}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	transactional := &stubStore{
		state:            store.state.clone(),
		allocateError:    store.allocateError,
		createError:      store.createError,
		getError:         store.getError,
		deleteError:      store.deleteError,
		updateTotalError: store.updateTotalError,
		markClaimedError: store.markClaimedError,
		getPledgeError:   store.getPledgeError,
		putPledgeError:   store.putPledgeError,
		appendEventError: store.appendEventError,
	}
	if err := fn(ctx, transactional); err != nil {
		return err
	}
	store.state = transactional.state
	return nil
}

func (store *stubStore) AllocateCampaignID(_ context.Context) (CampaignID, error) {
	if store.allocateError != nil {
		return CampaignID{}, store.allocateError
	}
	allocated := store.state.nextID
	store.state.nextID++
	return NewCampaignID(allocated)
}

func (store *stubStore) PeekNextCampaignID(_ context.Context) (int64, error) {
	return store.state.nextID, nil
}

func (store *stubStore) CreateCampaign(_ context.Context, campaign Campaign) error {
	if store.createError != nil {
		return store.createError
	}
	store.state.campaigns[campaign.ID().Int64()] = campaign
	return nil
}

func (store *stubStore) GetCampaign(ctx context.Context, campaignID CampaignID) (Campaign, error) {
	return store.GetCampaignForUpdate(ctx, campaignID)
}

func (store *stubStore) GetCampaignForUpdate(_ context.Context, campaignID CampaignID) (Campaign, error) {
	if store.getError != nil {
		return Campaign{}, store.getError
	}
	campaign, ok := store.state.campaigns[campaignID.Int64()]
	if !ok {
		return Campaign{}, ErrCampaignNotFound
	}
	return campaign, nil
}

func (store *stubStore) DeleteCampaign(_ context.Context, campaignID CampaignID) error {
	if store.deleteError != nil {
		return store.deleteError
	}
	if _, ok := store.state.campaigns[campaignID.Int64()]; !ok {
		return ErrCampaignNotFound
	}
	delete(store.state.campaigns, campaignID.Int64())
	return nil
}

func (store *stubStore) UpdateCampaignTotal(_ context.Context, campaignID CampaignID, totalCents AmountCents) error {
	if store.updateTotalError != nil {
		return store.updateTotalError
	}
	campaign, ok := store.state.campaigns[campaignID.Int64()]
	if !ok {
		return ErrCampaignNotFound
	}
	updated, err := NewCampaign(
		campaign.ID(),
		campaign.Creator(),
		campaign.GoalCents(),
		campaign.StartAtUnixUTC(),
		campaign.EndAtUnixUTC(),
		totalCents,
		campaign.Claimed(),
	)
	if err != nil {
		return err
	}
	store.state.campaigns[campaignID.Int64()] = updated
	return nil
}

func (store *stubStore) MarkClaimed(_ context.Context, campaignID CampaignID) error {
	if store.markClaimedError != nil {
		return store.markClaimedError
	}
	campaign, ok := store.state.campaigns[campaignID.Int64()]
	if !ok {
		return ErrCampaignNotFound
	}
	if campaign.Claimed() {
		return ErrAlreadyClaimed
	}
	updated, err := NewCampaign(
		campaign.ID(),
		campaign.Creator(),
		campaign.GoalCents(),
		campaign.StartAtUnixUTC(),
		campaign.EndAtUnixUTC(),
		campaign.TotalContributionCents(),
		true,
	)
	if err != nil {
		return err
	}
	store.state.campaigns[campaignID.Int64()] = updated
	return nil
}

func (store *stubStore) GetPledge(_ context.Context, campaignID CampaignID, contributor Principal) (AmountCents, error) {
	if store.getPledgeError != nil {
		return 0, store.getPledgeError
	}
	return store.state.pledges[pledgeKey{campaignID: campaignID.Int64(), contributor: contributor.String()}], nil
}

func (store *stubStore) PutPledge(_ context.Context, campaignID CampaignID, contributor Principal, amountCents AmountCents) error {
	if store.putPledgeError != nil {
		return store.putPledgeError
	}
	store.state.pledges[pledgeKey{campaignID: campaignID.Int64(), contributor: contributor.String()}] = amountCents
	return nil
}

func (store *stubStore) SumPledges(_ context.Context, campaignID CampaignID) (AmountCents, error) {
	var total AmountCents
	for key, amount := range store.state.pledges {
		if key.campaignID == campaignID.Int64() {
			total += amount
		}
	}
	return total, nil
}

func (store *stubStore) ListCampaigns(_ context.Context, beforeID int64, limit int) ([]Campaign, error) {
	var campaigns []Campaign
	for id := store.state.nextID; id > 0 && len(campaigns) < limit; id-- {
		if beforeID > 0 && id >= beforeID {
			continue
		}
		if campaign, ok := store.state.campaigns[id]; ok {
			campaigns = append(campaigns, campaign)
		}
	}
	return campaigns, nil
}

func (store *stubStore) AppendEvent(_ context.Context, notification Notification) error {
	if store.appendEventError != nil {
		return store.appendEventError
	}
	store.state.events = append(store.state.events, notification)
	return nil
}

func (store *stubStore) mustCampaign(test *testing.T, campaignID CampaignID) Campaign {
	test.Helper()
	campaign, ok := store.state.campaigns[campaignID.Int64()]
	if !ok {
		test.Fatalf("campaign %d not in store", campaignID.Int64())
	}
	return campaign
}

// transferCall records one custody movement observed by the fake transfer
// service.
type transferCall struct {
	direction   string
	principal   string
	amountCents int64
}

type fakeTransfer struct {
	moveInError  error
	moveOutError error
	calls        []transferCall
}

func (transfer *fakeTransfer) MoveIn(_ context.Context, from Principal, amount AmountCents) error {
	if transfer.moveInError != nil {
		return transfer.moveInError
	}
	transfer.calls = append(transfer.calls, transferCall{direction: "in", principal: from.String(), amountCents: amount.Int64()})
	return nil
}

func (transfer *fakeTransfer) MoveOut(_ context.Context, to Principal, amount AmountCents) error {
	if transfer.moveOutError != nil {
		return transfer.moveOutError
	}
	transfer.calls = append(transfer.calls, transferCall{direction: "out", principal: to.String(), amountCents: amount.Int64()})
	return nil
}

type stubClock struct {
	now int64
}

func (clock *stubClock) Now() int64 {
	return clock.now
}

type recorderNotifier struct {
	notifications []Notification
}

func (notifier *recorderNotifier) Notify(_ context.Context, notification Notification) {
	notifier.notifications = append(notifier.notifications, notification)
}

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func mustNewService(test *testing.T, store Store, transfers TransferService, clock *stubClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, transfers, clock.Now, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustPrincipal(test *testing.T, raw string) Principal {
	test.Helper()
	principal, err := NewPrincipal(raw)
	if err != nil {
		test.Fatalf("principal %q: %v", raw, err)
	}
	return principal
}

func mustGoal(test *testing.T, raw int64) GoalCents {
	test.Helper()
	goal, err := NewGoalCents(raw)
	if err != nil {
		test.Fatalf("goal %d: %v", raw, err)
	}
	return goal
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	amount, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustCampaignID(test *testing.T, raw int64) CampaignID {
	test.Helper()
	campaignID, err := NewCampaignID(raw)
	if err != nil {
		test.Fatalf("campaign id %d: %v", raw, err)
	}
	return campaignID
}

func mustLaunch(test *testing.T, service *Service, creator Principal, goal int64, startAt int64, endAt int64) CampaignID {
	test.Helper()
	campaignID, err := service.Launch(context.Background(), creator, mustGoal(test, goal), startAt, endAt)
	if err != nil {
		test.Fatalf("launch: %v", err)
	}
	return campaignID
}
