package crowdfund

import (
	"context"
	"fmt"
	"strings"
)

// AmountCents is a non-negative integer currency in cents.
type AmountCents int64

// NewAmountCents validates an amount and ensures it is not negative.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// PositiveAmountCents is a strictly positive integer currency in cents.
type PositiveAmountCents int64

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (PositiveAmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return PositiveAmountCents(raw), nil
}

// ToAmountCents widens a positive amount into the general amount type.
func (amount PositiveAmountCents) ToAmountCents() AmountCents {
	return AmountCents(amount)
}

// Int64 returns the raw cents value.
func (amount PositiveAmountCents) Int64() int64 {
	return int64(amount)
}

// GoalCents is a campaign funding goal, strictly positive.
type GoalCents int64

// NewGoalCents validates a funding goal.
func NewGoalCents(raw int64) (GoalCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidGoal)
	}
	return GoalCents(raw), nil
}

// ToAmountCents widens a goal into the general amount type.
func (goal GoalCents) ToAmountCents() AmountCents {
	return AmountCents(goal)
}

// Int64 returns the raw cents value.
func (goal GoalCents) Int64() int64 {
	return int64(goal)
}

// Principal identifies an authenticated caller. The value is supplied by the
// calling context (session, signed request) and never inferred implicitly.
type Principal struct {
	value string
}

// NewPrincipal validates and normalizes a principal identifier.
func NewPrincipal(raw string) (Principal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Principal{}, fmt.Errorf("%w: empty value", ErrInvalidPrincipal)
	}
	return Principal{value: trimmed}, nil
}

// String returns the normalized identifier.
func (principal Principal) String() string {
	return principal.value
}

// CampaignID identifies a campaign. Identifiers are sequential, start at 1,
// and are never reused.
type CampaignID struct {
	value int64
}

// NewCampaignID validates a campaign identifier.
func NewCampaignID(raw int64) (CampaignID, error) {
	if raw <= 0 {
		return CampaignID{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCampaignID)
	}
	return CampaignID{value: raw}, nil
}

// Int64 returns the raw identifier.
func (id CampaignID) Int64() int64 {
	return id.value
}

// Campaign is a stored campaign record.
type Campaign struct {
	id             CampaignID
	creator        Principal
	goalCents      GoalCents
	startAtUnixUTC int64
	endAtUnixUTC   int64
	totalCents     AmountCents
	claimed        bool
}

// NewCampaign assembles a campaign record, enforcing the structural invariants
// (valid id and creator, positive goal, endAt >= startAt, non-negative total).
func NewCampaign(id CampaignID, creator Principal, goalCents GoalCents, startAtUnixUTC int64, endAtUnixUTC int64, totalCents AmountCents, claimed bool) (Campaign, error) {
	if id.value <= 0 {
		return Campaign{}, fmt.Errorf("%w: zero id", ErrInvalidCampaignID)
	}
	if creator.value == "" {
		return Campaign{}, fmt.Errorf("%w: empty creator", ErrInvalidPrincipal)
	}
	if endAtUnixUTC < startAtUnixUTC {
		return Campaign{}, fmt.Errorf("%w: end before start", ErrInvalidWindow)
	}
	return Campaign{
		id:             id,
		creator:        creator,
		goalCents:      goalCents,
		startAtUnixUTC: startAtUnixUTC,
		endAtUnixUTC:   endAtUnixUTC,
		totalCents:     totalCents,
		claimed:        claimed,
	}, nil
}

// ID returns the campaign identifier.
func (campaign Campaign) ID() CampaignID {
	return campaign.id
}

// Creator returns the principal that launched the campaign.
func (campaign Campaign) Creator() Principal {
	return campaign.creator
}

// GoalCents returns the funding goal.
func (campaign Campaign) GoalCents() GoalCents {
	return campaign.goalCents
}

// StartAtUnixUTC returns the start of the contribution window.
func (campaign Campaign) StartAtUnixUTC() int64 {
	return campaign.startAtUnixUTC
}

// EndAtUnixUTC returns the end of the contribution window.
func (campaign Campaign) EndAtUnixUTC() int64 {
	return campaign.endAtUnixUTC
}

// TotalContributionCents returns the pooled, non-withdrawn pledge total.
func (campaign Campaign) TotalContributionCents() AmountCents {
	return campaign.totalCents
}

// Claimed reports whether the creator already claimed the pooled funds.
func (campaign Campaign) Claimed() bool {
	return campaign.claimed
}

// WindowOpen reports whether contributions are accepted at the given time.
func (campaign Campaign) WindowOpen(nowUnixUTC int64) bool {
	return nowUnixUTC >= campaign.startAtUnixUTC && nowUnixUTC <= campaign.endAtUnixUTC
}

// HasStarted reports whether the contribution window has opened.
func (campaign Campaign) HasStarted(nowUnixUTC int64) bool {
	return nowUnixUTC >= campaign.startAtUnixUTC
}

// HasEnded reports whether the contribution window has closed.
func (campaign Campaign) HasEnded(nowUnixUTC int64) bool {
	return nowUnixUTC > campaign.endAtUnixUTC
}

// GoalReached reports whether the pooled total meets the goal.
func (campaign Campaign) GoalReached() bool {
	return campaign.totalCents.Int64() >= campaign.goalCents.Int64()
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	AllocateCampaignID(ctx context.Context) (CampaignID, error)
	PeekNextCampaignID(ctx context.Context) (int64, error)
	CreateCampaign(ctx context.Context, campaign Campaign) error
	GetCampaign(ctx context.Context, campaignID CampaignID) (Campaign, error)
	GetCampaignForUpdate(ctx context.Context, campaignID CampaignID) (Campaign, error)
	DeleteCampaign(ctx context.Context, campaignID CampaignID) error
	UpdateCampaignTotal(ctx context.Context, campaignID CampaignID, totalCents AmountCents) error
	MarkClaimed(ctx context.Context, campaignID CampaignID) error
	GetPledge(ctx context.Context, campaignID CampaignID, contributor Principal) (AmountCents, error)
	PutPledge(ctx context.Context, campaignID CampaignID, contributor Principal, amountCents AmountCents) error
	SumPledges(ctx context.Context, campaignID CampaignID) (AmountCents, error)
	ListCampaigns(ctx context.Context, beforeID int64, limit int) ([]Campaign, error)
	AppendEvent(ctx context.Context, notification Notification) error
}
