package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/campaign-dialer/internal/compliance"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/infra/db"
	"github.com/acme/campaign-dialer/internal/infra/redis"
	"github.com/acme/campaign-dialer/internal/queue"
	"github.com/acme/campaign-dialer/internal/repository"
	pgrepo "github.com/acme/campaign-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/campaign-dialer/internal/repository/scylla"
	"github.com/acme/campaign-dialer/internal/service/availability"
	campaignsvc "github.com/acme/campaign-dialer/internal/service/campaign"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/internal/service/lifecycle"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	"github.com/acme/campaign-dialer/internal/service/recycling"
	"github.com/acme/campaign-dialer/internal/service/selector"
	"github.com/acme/campaign-dialer/internal/telephony"
	telephonymock "github.com/acme/campaign-dialer/internal/telephony/mock"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		err          error
		repositories *Repositories
		services     *Services
		dispatchers  *Dispatchers
		providers    *Providers
	}
}

// Repositories holds the storage implementations.
type Repositories struct {
	Campaigns repository.CampaignRepository
	Leads     repository.LeadRepository
	Agents    repository.AgentRepository
	Attempts  repository.AttemptRepository
	Dnc       repository.DncRepository
	Stats     repository.CampaignStatisticsRepository
	Journal   repository.AttemptJournal
}

// Services holds the domain services.
type Services struct {
	Pool         *availability.Pool
	Selector     *selector.Selector
	Tracker      *lifecycle.Tracker
	Orchestrator *orchestrator.Orchestrator
	Campaign     *campaignsvc.Service
	Recycling    *recycling.Manager
}

// Dispatchers holds the Kafka producers.
type Dispatchers struct {
	Dial   *queue.DialDispatcher
	Events *queue.EventPublisher
}

// Providers holds external platform clients.
type Providers struct {
	Telephony telephony.Provider
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	c := &Container{Config: cfg, Logger: lg}

	if c.Postgres, err = db.NewPostgres(ctx, cfg.Postgres); err != nil {
		return nil, c.abort(ctx, fmt.Errorf("bootstrap postgres: %w", err))
	}
	if c.Scylla, err = db.NewScylla(cfg.Scylla); err != nil {
		return nil, c.abort(ctx, fmt.Errorf("bootstrap scylla: %w", err))
	}
	if c.Redis, err = redis.NewClient(ctx, cfg.Redis); err != nil {
		return nil, c.abort(ctx, fmt.Errorf("bootstrap redis: %w", err))
	}
	if c.Kafka, err = queue.NewKafka(cfg.Kafka); err != nil {
		return nil, c.abort(ctx, fmt.Errorf("bootstrap kafka: %w", err))
	}

	return c, nil
}

func (c *Container) abort(ctx context.Context, err error) error {
	_ = c.Close(ctx)
	return err
}

func (c *Container) initComponents(ctx context.Context) error {
	c.components.once.Do(func() {
		cfg := c.Config
		pg := c.Postgres.DB()

		journal := scyllarepo.NewAttemptJournal(c.Scylla.Session())
		if !cfg.Scylla.DisableInitSchema {
			if err := journal.EnsureSchema(ctx); err != nil {
				c.components.err = fmt.Errorf("bootstrap attempt journal: %w", err)
				return
			}
		}

		repos := &Repositories{
			Campaigns: pgrepo.NewCampaignRepository(pg),
			Leads:     pgrepo.NewLeadRepository(pg),
			Agents:    pgrepo.NewAgentRepository(pg),
			Attempts:  pgrepo.NewAttemptRepository(pg),
			Dnc:       pgrepo.NewDncRepository(pg, cfg.Dialer.DefaultRegion),
			Stats:     pgrepo.NewCampaignStatisticsRepository(pg),
			Journal:   journal,
		}

		disp := &Dispatchers{
			Dial:   queue.NewDialDispatcher(c.Kafka, cfg.Kafka.DialTopic),
			Events: queue.NewEventPublisher(c.Kafka, cfg.Kafka.EventTopic),
		}

		pool := availability.NewPool(repos.Agents)
		tracker := lifecycle.New(lifecycle.Dependencies{
			Attempts:  repos.Attempts,
			Campaigns: repos.Campaigns,
			Stats:     repos.Stats,
			Journal:   repos.Journal,
			Pool:      pool,
			Logger:    c.Logger,
		})
		sel := selector.New(repos.Leads, repos.Dnc, compliance.NewGate(cfg.Dialer.DefaultRegion), cfg.Dialer.SelectorPageSize)
		orch := orchestrator.New(orchestrator.Dependencies{
			Campaigns:          repos.Campaigns,
			Leads:              repos.Leads,
			Agents:             repos.Agents,
			Stats:              repos.Stats,
			Pool:               pool,
			Selector:           sel,
			Tracker:            tracker,
			Dialer:             disp.Dial,
			Guard:              concurrency.NewRedisGuard(c.Redis.Inner(), cfg.Scheduler.LockTTL, cfg.Scheduler.LockKeyPrefix),
			Logger:             c.Logger,
			DefaultRatio:       cfg.Dialer.DefaultRatio,
			DefaultRegion:      cfg.Dialer.DefaultRegion,
			WorkerCount:        cfg.Scheduler.WorkerCount,
			CampaignFetchLimit: cfg.Scheduler.CampaignFetchLimit,
			DialTimeout:        cfg.Dialer.DialTimeout,
		})

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.services = &Services{
			Pool:         pool,
			Selector:     sel,
			Tracker:      tracker,
			Orchestrator: orch,
			Campaign: campaignsvc.NewService(campaignsvc.Dependencies{
				Campaigns: repos.Campaigns,
				Leads:     repos.Leads,
				Attempts:  repos.Attempts,
				Stats:     repos.Stats,
				Journal:   repos.Journal,
				Tracker:   tracker,
				Processor: orch,
				Logger:    c.Logger,
			}),
			Recycling: recycling.NewManager(repos.Campaigns, repos.Leads, repos.Stats, c.Logger, cfg.Recycling.BatchSize),
		}
		c.components.providers = &Providers{
			Telephony: telephonymock.NewProvider(cfg.Bridge),
		}
	})
	return c.components.err
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories(ctx context.Context) (*Repositories, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	return c.components.repositories, nil
}

// Services exposes initialized services.
func (c *Container) Services(ctx context.Context) (*Services, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	return c.components.services, nil
}

// Dispatchers exposes Kafka producers.
func (c *Container) Dispatchers(ctx context.Context) (*Dispatchers, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	return c.components.dispatchers, nil
}

// Providers exposes external providers.
func (c *Container) Providers(ctx context.Context) (*Providers, error) {
	if err := c.initComponents(ctx); err != nil {
		return nil, err
	}
	return c.components.providers, nil
}

// HealthChecks returns a probe per backing service.
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla.Ping
	}
	return checks
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	partitions := c.Config.Kafka.Partitions
	if partitions <= 0 {
		partitions = 3
	}
	replication := c.Config.Kafka.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	return c.Kafka.EnsureTopics(ctx, c.Kafka.Topics(), partitions, replication)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if err := d.Dial.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dial dispatcher close: %w", err))
		}
		if err := d.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
