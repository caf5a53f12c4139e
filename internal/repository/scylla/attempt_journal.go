package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
)

const journalSchema = `CREATE TABLE IF NOT EXISTS attempt_events_by_campaign (
	campaign_id text,
	occurred_at timestamp,
	event_id timeuuid,
	attempt_id text,
	lead_id text,
	external_call_id text,
	state text,
	outcome_code text,
	PRIMARY KEY ((campaign_id), occurred_at, event_id)
) WITH CLUSTERING ORDER BY (occurred_at ASC, event_id ASC)`

// AttemptJournal stores applied attempt transitions per campaign in Scylla.
type AttemptJournal struct {
	session *gocql.Session
}

// NewAttemptJournal creates a journal on an open session.
func NewAttemptJournal(session *gocql.Session) *AttemptJournal {
	return &AttemptJournal{session: session}
}

// EnsureSchema creates the journal table when missing.
func (j *AttemptJournal) EnsureSchema(ctx context.Context) error {
	if err := j.session.Query(journalSchema).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt journal: create table: %w", err)
	}
	return nil
}

// Append records one transition.
func (j *AttemptJournal) Append(ctx context.Context, event domain.AttemptEvent) error {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	if err := j.session.Query(`INSERT INTO attempt_events_by_campaign
		(campaign_id, occurred_at, event_id, attempt_id, lead_id, external_call_id, state, outcome_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.CampaignID.String(), occurred, gocql.UUIDFromTime(occurred), event.AttemptID.String(), event.LeadID.String(),
		event.ExternalCallID, string(event.State), string(event.OutcomeCode),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt journal: append: %w", err)
	}
	return nil
}

// ListByCampaign pages a campaign's transitions oldest first. The returned paging state is
// empty on the last page.
func (j *AttemptJournal) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.AttemptEvent, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := j.session.Query(`SELECT occurred_at, attempt_id, lead_id, external_call_id, state, outcome_code
		FROM attempt_events_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	events := make([]domain.AttemptEvent, 0, limit)

	var (
		occurred     time.Time
		attemptIDStr string
		leadIDStr    string
		externalID   string
		state        string
		outcome      string
	)
	for iter.Scan(&occurred, &attemptIDStr, &leadIDStr, &externalID, &state, &outcome) {
		attemptID, err := uuid.Parse(attemptIDStr)
		if err != nil {
			continue
		}
		leadID, err := uuid.Parse(leadIDStr)
		if err != nil {
			continue
		}
		parsed, err := domain.ParseAttemptState(state)
		if err != nil {
			continue
		}
		events = append(events, domain.AttemptEvent{
			CampaignID:     campaignID,
			AttemptID:      attemptID,
			LeadID:         leadID,
			ExternalCallID: externalID,
			State:          parsed,
			OutcomeCode:    domain.OutcomeCode(outcome),
			OccurredAt:     occurred.UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt journal: iter close: %w", err)
	}

	return events, iter.PageState(), nil
}
