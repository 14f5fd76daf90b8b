package models

import "time"

type FeedStatus string

const (
	FeedActive         FeedStatus = "active"
	FeedError          FeedStatus = "error"
	FeedPermanentError FeedStatus = "permanent_error"
	FeedDisabled       FeedStatus = "disabled"
)

func (s FeedStatus) Valid() bool {
	switch s {
	case FeedActive, FeedError, FeedPermanentError, FeedDisabled:
		return true
	}
	return false
}

type ReadStatus string

const (
	Unread ReadStatus = "unread"
	Read   ReadStatus = "read"
)

func (s ReadStatus) Valid() bool {
	return s == Unread || s == Read
}

// Category is a node in the category tree. ParentID is nil for roots.
type Category struct {
	Id          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	ParentID    *int64    `json:"parentId,omitempty"`
	IsExpanded  bool      `json:"isExpanded"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Feed is a subscription together with its scheduling state
type Feed struct {
	Id            int64      `json:"id"`
	Title         string     `json:"title"`
	Url           string     `json:"url"`
	CategoryID    *int64     `json:"categoryId,omitempty"`
	Status        FeedStatus `json:"status"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	IconUrl       *string    `json:"iconUrl,omitempty"`
	SiteUrl       *string    `json:"siteUrl,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastFetchedAt *time.Time `json:"lastFetchedAt,omitempty"`
	NextFetchAt   *time.Time `json:"nextFetchAt,omitempty"`

	// Conditional fetch and backoff state, not part of the user facing schema
	ETag                string         `json:"-"`
	LastModified        string         `json:"-"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	RefreshInterval     *time.Duration `json:"refreshInterval,omitempty"`
}

type Article struct {
	Id          int64      `json:"id"`
	FeedID      int64      `json:"feedId"`
	CategoryID  *int64     `json:"categoryId,omitempty"`
	Title       string     `json:"title"`
	Url         string     `json:"url"`
	Author      *string    `json:"author,omitempty"`
	Content     *string    `json:"content,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ReadStatus  ReadStatus `json:"readStatus"`
	IsFavorited bool       `json:"isFavorited"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Tag struct {
	Id          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Color       *string   `json:"color,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ArticleTag struct {
	ArticleID int64     `json:"articleId"`
	TagID     int64     `json:"tagId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CandidateEntry is one parsed feed entry before it is merged into storage
type CandidateEntry struct {
	Title        string
	Url          string
	Author       *string
	Content      *string
	Summary      *string
	PublishedAt  *time.Time
	DeclaredTags []string
}

type FetchStatus string

const (
	FetchSuccess        FetchStatus = "success"
	FetchNotModified    FetchStatus = "not_modified"
	FetchTransientError FetchStatus = "transient_error"
	FetchPermanentError FetchStatus = "permanent_error"
)

type FetchResult struct {
	Status          FetchStatus
	Body            []byte
	ContentType     string
	NewETag         string
	NewLastModified string
	// Set for TransientError and PermanentError results
	Err error
}

type MergeDecision string

const (
	MergeInserted MergeDecision = "inserted"
	MergeUpdated  MergeDecision = "updated"
	MergeSkipped  MergeDecision = "skipped"
	// The URL belongs to an article owned by another feed
	MergeForeign MergeDecision = "foreign"
)

// MergeStats counts merge decisions for one feed pass
type MergeStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Foreign  int `json:"foreign"`
	Invalid  int `json:"invalid"`
}

func (s *MergeStats) Add(d MergeDecision) {
	switch d {
	case MergeInserted:
		s.Inserted++
	case MergeUpdated:
		s.Updated++
	case MergeSkipped:
		s.Skipped++
	case MergeForeign:
		s.Foreign++
	}
}

func (s *MergeStats) Combine(o MergeStats) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Foreign += o.Foreign
	s.Invalid += o.Invalid
}
