package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Campaign mirrors the campaigns table.
type Campaign struct {
	CampaignID int64     `gorm:"primaryKey;autoIncrement:false"`
	Creator    string    `gorm:"not null;index"`
	GoalCents  int64     `gorm:"not null"`
	StartAt    time.Time `gorm:"not null"`
	EndAt      time.Time `gorm:"not null"`
	TotalCents int64     `gorm:"not null"`
	Claimed    bool      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Campaign) TableName() string { return "campaigns" }

// Pledge mirrors the pledges table, keyed by (campaign, contributor).
type Pledge struct {
	CampaignID  int64     `gorm:"primaryKey;autoIncrement:false"`
	Contributor string    `gorm:"primaryKey"`
	AmountCents int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Pledge) TableName() string { return "pledges" }

// CampaignCounter holds the next sequential campaign identifier.
type CampaignCounter struct {
	CounterID string `gorm:"primaryKey"`
	NextID    int64  `gorm:"not null"`
}

func (CampaignCounter) TableName() string { return "campaign_counters" }

// CampaignEvent journals one committed notification for external observers.
type CampaignEvent struct {
	EventID    string         `gorm:"type:uuid;primaryKey"`
	Kind       string         `gorm:"not null;index:idx_events_kind"`
	CampaignID int64          `gorm:"not null;index:idx_events_campaign_occurred,priority:1"`
	Actor      string         `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"not null"`
	OccurredAt time.Time      `gorm:"not null;index:idx_events_campaign_occurred,priority:2"`
}

func (CampaignEvent) TableName() string { return "campaign_events" }

func (event *CampaignEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}
