package alder

import (
	"context"
	"sync"
	"time"

	"github.com/alderdb/alder/db"
	"github.com/evergreen-ci/utility"
	"github.com/google/uuid"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	globalEnv     Environment
	globalEnvLock sync.RWMutex
)

// GetEnvironment returns the global application environment. It is nil
// until SetEnvironment is called.
//
// In general you should construct one environment per process and pass
// it through your application like a context; the global accessor
// exists for entry points that cannot thread it through.
func GetEnvironment() Environment {
	globalEnvLock.RLock()
	defer globalEnvLock.RUnlock()

	return globalEnv
}

// SetEnvironment installs the global application environment.
func SetEnvironment(env Environment) {
	globalEnvLock.Lock()
	defer globalEnvLock.Unlock()

	globalEnv = env
}

// Environment provides the shared application state: settings, the
// database connection, and the strategy decisions fixed when that
// connection was established. Implementations are safe for concurrent
// use.
type Environment interface {
	// Settings returns the validated settings the environment was
	// built from.
	Settings() *Settings

	Client() *mongo.Client
	DB() *db.Database

	// Capabilities returns the strategy selections detected when
	// the connection was established. They do not change for the
	// life of the environment.
	Capabilities() db.Capabilities

	// RegisterCloser adds a function object to an internal tracker
	// to be called by the Close method before process termination.
	// The name is used in reporting and must be unique.
	RegisterCloser(string, func(context.Context) error)
	// Close calls all registered closers in the environment.
	Close(context.Context) error
}

// NewEnvironment constructs an Environment, establishing a new
// connection to the database and detecting the deployment's
// capabilities. The capability tier is decided here, once, and reused
// by every operation for the life of the environment.
func NewEnvironment(ctx context.Context, settings *Settings) (Environment, error) {
	if settings == nil {
		return nil, errors.New("cannot construct an environment without settings")
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating settings")
	}

	e := &envState{
		id:       uuid.New().String(),
		created:  time.Now(),
		settings: settings,
		closers:  map[string]func(context.Context) error{},
	}
	if err := e.initDB(ctx, settings.Database); err != nil {
		return nil, errors.Wrap(err, "initializing database connection")
	}

	grip.Info(message.Fields{
		"message":  "established application environment",
		"id":       e.id,
		"db":       settings.Database.DB,
		"server":   e.caps.Server.String(),
		"tier":     e.caps.Tier.String(),
		"duration": time.Since(e.created).String(),
	})

	return e, nil
}

type envState struct {
	id       string
	created  time.Time
	settings *Settings
	client   *mongo.Client
	database *db.Database
	caps     db.Capabilities

	mu      sync.RWMutex
	closers map[string]func(context.Context) error
}

func (e *envState) initDB(ctx context.Context, settings DBSettings) error {
	opts := options.Client().
		ApplyURI(settings.URL).
		SetConnectTimeout(settings.connectTimeout())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrapf(err, "connecting to '%s'", settings.URL)
	}

	err = utility.Retry(ctx, func() (bool, error) {
		pingCtx, cancel := context.WithTimeout(ctx, settings.connectTimeout())
		defer cancel()

		return true, client.Ping(pingCtx, readpref.Primary())
	}, utility.RetryOptions{MaxAttempts: settings.PingAttempts})
	if err != nil {
		return errors.Wrapf(err, "pinging '%s'", settings.URL)
	}

	caps, err := db.DetectCapabilities(ctx, client)
	if err != nil {
		return errors.Wrap(err, "detecting deployment capabilities")
	}

	e.client = client
	e.caps = caps
	e.database = db.NewDatabase(client.Database(settings.DB), caps)
	e.RegisterCloser("database-connection", client.Disconnect)

	return nil
}

func (e *envState) Settings() *Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.settings
}

func (e *envState) Client() *mongo.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.client
}

func (e *envState) DB() *db.Database {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.database
}

func (e *envState) Capabilities() db.Capabilities {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.caps
}

func (e *envState) RegisterCloser(name string, closeFn func(context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.closers[name]; ok {
		grip.Critical(message.Fields{
			"message": "duplicate closer registration",
			"closer":  name,
			"env":     e.id,
		})
		return
	}

	e.closers[name] = closeFn
}

func (e *envState) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	catcher := grip.NewBasicCatcher()
	for name, closeFn := range e.closers {
		grip.Debug(message.Fields{
			"message": "running closer",
			"closer":  name,
			"env":     e.id,
		})
		catcher.Wrapf(closeFn(ctx), "running closer '%s'", name)
	}
	e.closers = map[string]func(context.Context) error{}

	return catcher.Resolve()
}
