package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/internal/conversation"
	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/infra/db"
	"github.com/acme/voice-load-test/internal/infra/redis"
	"github.com/acme/voice-load-test/internal/queue"
	"github.com/acme/voice-load-test/internal/repository"
	pgrepo "github.com/acme/voice-load-test/internal/repository/postgres"
	redisrepo "github.com/acme/voice-load-test/internal/repository/redis"
	scyllarepo "github.com/acme/voice-load-test/internal/repository/scylla"
	"github.com/acme/voice-load-test/internal/scheduler"
	callsvc "github.com/acme/voice-load-test/internal/service/call"
	"github.com/acme/voice-load-test/internal/service/concurrency"
	loadtestsvc "github.com/acme/voice-load-test/internal/service/loadtest"
	"github.com/acme/voice-load-test/internal/telephony"
	telephonymock "github.com/acme/voice-load-test/internal/telephony/mock"
	telephonytwilio "github.com/acme/voice-load-test/internal/telephony/twilio"
	"github.com/acme/voice-load-test/internal/trunk"
	"github.com/acme/voice-load-test/pkg/logger"
)

// Dependency names a piece of infrastructure a process connects to.
type Dependency uint8

const (
	NeedPostgres Dependency = 1 << iota
	NeedScylla
	NeedRedis
	NeedKafka
)

// Container wires together shared infrastructure dependencies. Only the
// infrastructure a process asked for is connected; the rest stays nil.
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
		repositories *repositories
		services     *services
		dispatchers  *dispatchers
		providers    *providers
		limiters     *limiters
	}
}

type repositories struct {
	Runs     repository.RunRepository
	Stats    repository.RunStatisticsRepository
	Calls    repository.CallStore
	Trunks   *pgrepo.TrunkRepository
	Registry repository.RunRegistry
	Rooms    *redisrepo.RoomIndex
}

type services struct {
	LoadTest  *loadtestsvc.Service
	Scheduler *scheduler.Scheduler
	Calls     *callsvc.Controller
}

type dispatchers struct {
	Dispatches *queue.DispatchPublisher
	Events     *queue.EventPublisher
}

type providers struct {
	Telephony    telephony.Platform
	Conversation conversation.Starter
}

type limiters struct {
	Concurrency *concurrency.Limiter
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string, needs Dependency) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg}

	if needs&NeedPostgres != 0 {
		if container.Postgres, err = db.NewPostgres(ctx, cfg.Postgres); err != nil {
			return nil, container.abort(ctx, fmt.Errorf("bootstrap postgres: %w", err))
		}
	}
	if needs&NeedScylla != 0 {
		if container.Scylla, err = db.NewScylla(cfg.Scylla); err != nil {
			return nil, container.abort(ctx, fmt.Errorf("bootstrap scylla: %w", err))
		}
	}
	if needs&NeedRedis != 0 {
		if container.Redis, err = redis.NewClient(ctx, cfg.Redis); err != nil {
			return nil, container.abort(ctx, fmt.Errorf("bootstrap redis: %w", err))
		}
	}
	if needs&NeedKafka != 0 {
		if container.Kafka, err = queue.NewKafka(cfg.Kafka); err != nil {
			return nil, container.abort(ctx, fmt.Errorf("bootstrap kafka: %w", err))
		}
	}

	return container, nil
}

func (c *Container) abort(ctx context.Context, err error) error {
	_ = c.Close(ctx)
	return err
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config
		repos := &repositories{}
		if c.Postgres != nil {
			repos.Runs = pgrepo.NewRunRepository(c.Postgres.DB())
			repos.Stats = pgrepo.NewRunStatisticsRepository(c.Postgres.DB())
			repos.Trunks = pgrepo.NewTrunkRepository(c.Postgres.Pool())
		}
		if c.Scylla != nil {
			repos.Calls = scyllarepo.NewCallStore(c.Scylla.Session())
		}
		if c.Redis != nil {
			repos.Registry = redisrepo.NewRunRegistry(c.Redis.Inner(), cfg.Redis.KeyPrefix, cfg.Redis.RunTTL)
			repos.Rooms = redisrepo.NewRoomIndex(c.Redis.Inner(), cfg.Redis.KeyPrefix, cfg.Agent.JobTimeout)
		}

		disp := &dispatchers{}
		if c.Kafka != nil {
			disp.Dispatches = queue.NewDispatchPublisher(c.Kafka, cfg.Kafka.DispatchTopic)
			disp.Events = queue.NewEventPublisher(c.Kafka, cfg.Kafka.EventTopic)
		}

		prov := &providers{
			Conversation: conversation.NewLoggingStarter(conversation.CapabilitiesFromConfig(cfg.Conversation), c.Logger),
		}
		platform, err := c.buildPlatform(repos.Rooms)
		if err != nil {
			c.components.err = err
		}
		prov.Telephony = platform

		lim := &limiters{}
		if c.Redis != nil {
			lim.Concurrency = concurrency.NewLimiter(c.Redis.Inner(), cfg.Redis.KeyPrefix, cfg.Throttle.MaxActiveCalls, cfg.Throttle.SlotTTL)
		}

		svcs := &services{}
		if repos.Runs != nil && repos.Stats != nil {
			svcs.LoadTest = loadtestsvc.NewService(repos.Runs, repos.Stats, repos.Calls, cfg.LoadTest)
		}
		if disp.Dispatches != nil && repos.Trunks != nil {
			deps := scheduler.Deps{
				Submitter: disp.Dispatches,
				Trunks:    trunk.NewResolver(repos.Trunks),
			}
			if repos.Registry != nil {
				deps.Registry = repos.Registry
			}
			if svcs.LoadTest != nil {
				deps.Books = svcs.LoadTest
			}
			svcs.Scheduler = scheduler.New(deps, c.Logger)
		}
		if platform != nil {
			direction, err := domain.ParseDirection(cfg.Agent.Direction)
			if err != nil {
				c.components.err = errors.Join(c.components.err, fmt.Errorf("agent: %w", err))
			} else {
				var sink callsvc.EventSink
				if disp.Events != nil {
					sink = disp.Events
				}
				svcs.Calls = callsvc.NewController(platform, prov.Conversation, sink, callsvc.Options{Direction: direction}, c.Logger)
			}
		}

		c.components.repositories = repos
		c.components.dispatchers = disp
		c.components.providers = prov
		c.components.limiters = lim
		c.components.services = svcs
	})
}

func (c *Container) buildPlatform(rooms *redisrepo.RoomIndex) (telephony.Platform, error) {
	switch c.Config.Telephony.Provider {
	case "", "mock":
		return telephonymock.NewPlatform(c.Config.Telephony.Mock), nil
	case "twilio":
		if rooms == nil {
			return nil, fmt.Errorf("telephony: twilio provider needs redis for the room index")
		}
		platform, err := telephonytwilio.NewPlatform(c.Config.Telephony.Twilio, rooms)
		if err != nil {
			return nil, err
		}
		return platform, nil
	default:
		return nil, fmt.Errorf("telephony: unknown provider %q", c.Config.Telephony.Provider)
	}
}

// Err reports a component that could not be built from configuration.
func (c *Container) Err() error {
	c.initComponents()
	return c.components.err
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Dispatchers exposes Kafka publishers.
func (c *Container) Dispatchers() *dispatchers {
	c.initComponents()
	return c.components.dispatchers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Limiters exposes limiter utilities.
func (c *Container) Limiters() *limiters {
	c.initComponents()
	return c.components.limiters
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if d := c.components.dispatchers; d != nil {
		if d.Dispatches != nil {
			if err := d.Dispatches.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dispatch publisher close: %w", err))
			}
		}
		if d.Events != nil {
			if err := d.Events.Close(); err != nil {
				errs = append(errs, fmt.Errorf("event publisher close: %w", err))
			}
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

// EnsureTopics creates the dispatch and event topics when they are missing.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return fmt.Errorf("kafka: not configured for this process")
	}
	partitions := c.Config.Kafka.Partitions
	if partitions <= 0 {
		partitions = 12
	}
	return c.Kafka.EnsureTopics(ctx, partitions, 1, c.Config.Kafka.DispatchTopic, c.Config.Kafka.EventTopic)
}
