package repository

import "time"

// =============================================================================
// Persistence Models
// =============================================================================

// ContentRecord is one piece of generated marketing content, written after a
// content creation or end-to-end run completes.
type ContentRecord struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	RunID             string    `gorm:"size:36;index:idx_content_run" json:"run_id"`
	FlowName          string    `gorm:"size:100;index:idx_content_flow" json:"flow_name"`
	Topic             string    `gorm:"size:255;not null" json:"topic"`
	ContentType       string    `gorm:"size:50" json:"content_type"`
	TargetAudience    string    `gorm:"size:255" json:"target_audience"`
	Tone              string    `gorm:"size:50" json:"tone"`
	Body              string    `gorm:"type:text" json:"body"`
	OptimizationScore int       `gorm:"default:0" json:"optimization_score"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DistributionRecord is the outcome of publishing one content piece to one
// channel: published or scheduled, the channel URL, and the estimated reach.
type DistributionRecord struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	ContentID     string    `gorm:"size:36;index:idx_distribution_content" json:"content_id"`
	RunID         string    `gorm:"size:36;index:idx_distribution_run" json:"run_id"`
	Channel       string    `gorm:"size:50;not null" json:"channel"`
	Status        string    `gorm:"size:20" json:"status"`
	URL           string    `gorm:"size:500" json:"url"`
	AudienceReach int       `gorm:"default:0" json:"audience_reach"`
	CreatedAt     time.Time `json:"created_at"`
}
