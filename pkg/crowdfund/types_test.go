package crowdfund

import (
	"errors"
	"testing"
)

func TestNewAmountCents(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		raw     int64
		wantErr error
	}{
		{name: "zero is allowed", raw: 0},
		{name: "positive is allowed", raw: 125},
		{name: "negative is rejected", raw: -1, wantErr: ErrInvalidAmountCents},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			amount, err := NewAmountCents(testCase.raw)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if amount.Int64() != testCase.raw {
				test.Fatalf("expected %d, got %d", testCase.raw, amount.Int64())
			}
		})
	}
}

func TestNewPositiveAmountCents(test *testing.T) {
	test.Parallel()
	if _, err := NewPositiveAmountCents(0); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf("expected ErrInvalidAmountCents for zero, got %v", err)
	}
	if _, err := NewPositiveAmountCents(-5); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf("expected ErrInvalidAmountCents for negative, got %v", err)
	}
	amount, err := NewPositiveAmountCents(5)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if amount.ToAmountCents() != 5 {
		test.Fatalf("expected widened amount 5, got %d", amount.ToAmountCents())
	}
}

func TestNewGoalCents(test *testing.T) {
	test.Parallel()
	if _, err := NewGoalCents(0); !errors.Is(err, ErrInvalidGoal) {
		test.Fatalf("expected ErrInvalidGoal for zero, got %v", err)
	}
	if _, err := NewGoalCents(-100); !errors.Is(err, ErrInvalidGoal) {
		test.Fatalf("expected ErrInvalidGoal for negative, got %v", err)
	}
	goal, err := NewGoalCents(100)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if goal.Int64() != 100 {
		test.Fatalf("expected 100, got %d", goal.Int64())
	}
}

func TestNewPrincipal(test *testing.T) {
	test.Parallel()
	if _, err := NewPrincipal(""); !errors.Is(err, ErrInvalidPrincipal) {
		test.Fatalf("expected ErrInvalidPrincipal for empty value, got %v", err)
	}
	if _, err := NewPrincipal("   "); !errors.Is(err, ErrInvalidPrincipal) {
		test.Fatalf("expected ErrInvalidPrincipal for blank value, got %v", err)
	}
	principal, err := NewPrincipal("  alice  ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if principal.String() != "alice" {
		test.Fatalf("expected trimmed value, got %q", principal.String())
	}
}

func TestNewCampaignID(test *testing.T) {
	test.Parallel()
	if _, err := NewCampaignID(0); !errors.Is(err, ErrInvalidCampaignID) {
		test.Fatalf("expected ErrInvalidCampaignID for zero, got %v", err)
	}
	if _, err := NewCampaignID(-1); !errors.Is(err, ErrInvalidCampaignID) {
		test.Fatalf("expected ErrInvalidCampaignID for negative, got %v", err)
	}
	id, err := NewCampaignID(7)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if id.Int64() != 7 {
		test.Fatalf("expected 7, got %d", id.Int64())
	}
}

func TestNewCampaignInvariants(test *testing.T) {
	test.Parallel()
	id := mustCampaignID(test, 1)
	creator := mustPrincipal(test, creatorName)
	goal := mustGoal(test, 100)

	if _, err := NewCampaign(CampaignID{}, creator, goal, 10, 20, 0, false); !errors.Is(err, ErrInvalidCampaignID) {
		test.Fatalf("expected ErrInvalidCampaignID, got %v", err)
	}
	if _, err := NewCampaign(id, Principal{}, goal, 10, 20, 0, false); !errors.Is(err, ErrInvalidPrincipal) {
		test.Fatalf("expected ErrInvalidPrincipal, got %v", err)
	}
	if _, err := NewCampaign(id, creator, goal, 20, 10, 0, false); !errors.Is(err, ErrInvalidWindow) {
		test.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	campaign, err := NewCampaign(id, creator, goal, 10, 10, 0, false)
	if err != nil {
		test.Fatalf("single-instant window should be valid: %v", err)
	}
	if campaign.StartAtUnixUTC() != campaign.EndAtUnixUTC() {
		test.Fatalf("expected matching window bounds")
	}
}

func TestCampaignWindowPredicates(test *testing.T) {
	test.Parallel()
	campaign, err := NewCampaign(mustCampaignID(test, 1), mustPrincipal(test, creatorName), mustGoal(test, 100), 10, 20, 0, false)
	if err != nil {
		test.Fatalf("campaign: %v", err)
	}

	testCases := []struct {
		name        string
		now         int64
		wantStarted bool
		wantOpen    bool
		wantEnded   bool
	}{
		{name: "before start", now: 9},
		{name: "at start", now: 10, wantStarted: true, wantOpen: true},
		{name: "inside window", now: 15, wantStarted: true, wantOpen: true},
		{name: "at end", now: 20, wantStarted: true, wantOpen: true},
		{name: "after end", now: 21, wantStarted: true, wantEnded: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := campaign.HasStarted(testCase.now); got != testCase.wantStarted {
				test.Fatalf("HasStarted(%d) = %v, want %v", testCase.now, got, testCase.wantStarted)
			}
			if got := campaign.WindowOpen(testCase.now); got != testCase.wantOpen {
				test.Fatalf("WindowOpen(%d) = %v, want %v", testCase.now, got, testCase.wantOpen)
			}
			if got := campaign.HasEnded(testCase.now); got != testCase.wantEnded {
				test.Fatalf("HasEnded(%d) = %v, want %v", testCase.now, got, testCase.wantEnded)
			}
		})
	}
}

func TestCampaignGoalReached(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name  string
		total int64
		want  bool
	}{
		{name: "below goal", total: 99},
		{name: "exactly at goal", total: 100, want: true},
		{name: "above goal", total: 101, want: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			campaign, err := NewCampaign(mustCampaignID(test, 1), mustPrincipal(test, creatorName), mustGoal(test, 100), 10, 20, AmountCents(testCase.total), false)
			if err != nil {
				test.Fatalf("campaign: %v", err)
			}
			if campaign.GoalReached() != testCase.want {
				test.Fatalf("GoalReached with total %d = %v, want %v", testCase.total, campaign.GoalReached(), testCase.want)
			}
		})
	}
}
