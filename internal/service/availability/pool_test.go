package availability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository/memory"
)

func TestAvailableFiltersByCampaignAndPresence(t *testing.T) {
	store := memory.NewStore()
	campaign, other := uuid.New(), uuid.New()
	ready := &domain.Agent{ID: uuid.New(), Availability: domain.AgentAvailable, CampaignIDs: []uuid.UUID{campaign}}
	store.PutAgent(ready)
	store.PutAgent(&domain.Agent{ID: uuid.New(), Availability: domain.AgentOnBreak, CampaignIDs: []uuid.UUID{campaign}})
	store.PutAgent(&domain.Agent{ID: uuid.New(), Availability: domain.AgentAvailable, CampaignIDs: []uuid.UUID{other}})

	pool := NewPool(store.Repositories().Agents)
	agents, err := pool.Available(context.Background(), campaign)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, ready.ID, agents[0].ID)
}

func TestReserveIsExclusive(t *testing.T) {
	store := memory.NewStore()
	agent := &domain.Agent{ID: uuid.New(), Availability: domain.AgentAvailable}
	store.PutAgent(agent)
	pool := NewPool(store.Repositories().Agents)
	ctx := context.Background()

	ok, err := pool.Reserve(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pool.Reserve(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pool.Release(ctx, agent.ID))
	assert.Equal(t, domain.AgentAvailable, store.Agent(agent.ID).Availability)
}

func TestReserveAny(t *testing.T) {
	store := memory.NewStore()
	campaign := uuid.New()
	pool := NewPool(store.Repositories().Agents)
	ctx := context.Background()

	got, err := pool.ReserveAny(ctx, campaign)
	require.NoError(t, err)
	assert.Nil(t, got)

	agent := &domain.Agent{ID: uuid.New(), Availability: domain.AgentAvailable, CampaignIDs: []uuid.UUID{campaign}}
	store.PutAgent(agent)
	got, err = pool.ReserveAny(ctx, campaign)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.AgentBusy, store.Agent(agent.ID).Availability)
}
