// Package article defines the knowledge-base document model and its
// PostgreSQL store.
package article

import (
	"time"

	"github.com/google/uuid"
)

// Article is a document in the knowledge base. Embedding is nil until the
// background embedding job has processed the article; such articles are
// invisible to vector search.
type Article struct {
	ID            uuid.UUID
	SourceID      string // identifier assigned by the CMS
	Title         string
	Subtitle      string
	Body          string
	Link          string // canonical link slug, relative to the channel
	ChannelID     *uuid.UUID
	ContributorID *int64
	Status        int16
	PublishedAt   *time.Time
	Embedding     []float32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Channel groups articles under a public URL prefix.
type Channel struct {
	ID    uuid.UUID
	Slug  string
	Title string
}

// Contributor is an author identity owned by the CMS. The ID is the CMS's
// stable numeric identifier; LegacyUserID links older accounts.
type Contributor struct {
	ID           int64
	LegacyUserID *int64
	Name         string
}

// Publication status codes.
const (
	StatusDraft     int16 = 0
	StatusPublished int16 = 1
	StatusArchived  int16 = 2
)
