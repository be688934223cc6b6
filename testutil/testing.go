// Package testutil provides the shared harness for tests that need a
// running MongoDB deployment. Tests built on it skip themselves when
// no deployment is reachable, so the rest of the suite stays runnable
// on machines without a database.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/alderdb/alder"
	"github.com/alderdb/alder/db"
	"github.com/stretchr/testify/require"
)

const (
	// EnvDBURLOverride names the environment variable that points
	// integration tests at a deployment. When it is unset the
	// harness tries localhost and skips if nothing answers.
	EnvDBURLOverride = "ALDER_TEST_MONGO_URL"

	// TestDatabaseName is the database integration tests write to.
	TestDatabaseName = "alder_test"
)

// GetDirectoryOfFile returns the path of the file calling this
// function. Use this to ensure that references to testdata and other
// file system locations in tests are not dependent on the working
// directory of the "go test" invocation.
func GetDirectoryOfFile() string {
	_, file, _, _ := runtime.Caller(1)

	return filepath.Dir(file)
}

// TestSettings returns settings pointed at the test deployment, with
// timeouts short enough that an absent database is detected quickly.
func TestSettings() *alder.Settings {
	settings := &alder.Settings{}
	settings.Database.URL = os.Getenv(EnvDBURLOverride)
	settings.Database.DB = TestDatabaseName
	settings.Database.ConnectTimeoutSeconds = 2
	settings.Database.PingAttempts = 1

	return settings
}

// NewEnvironment connects an environment for an integration test and
// registers its cleanup with the test. When no deployment is
// reachable the test is skipped, unless the caller pointed the
// harness at one explicitly, in which case failing to connect is a
// test failure.
func NewEnvironment(ctx context.Context, t *testing.T) alder.Environment {
	settings := TestSettings()

	env, err := alder.NewEnvironment(ctx, settings)
	if err != nil {
		if os.Getenv(EnvDBURLOverride) != "" {
			require.NoError(t, err, "connecting to '%s'", settings.Database.URL)
		}
		t.Skipf("database not reachable at '%s': %s", settings.Database.URL, err)
	}
	t.Cleanup(func() {
		require.NoError(t, env.Close(context.Background()))
	})

	return env
}

// ClearCollections removes every document from the given collections,
// failing the test on any error.
func ClearCollections(ctx context.Context, t *testing.T, d *db.Database, collections ...string) {
	require.NoError(t, d.ClearCollections(ctx, collections...))
}

// DropCollections drops the given collections, failing the test on
// any error.
func DropCollections(ctx context.Context, t *testing.T, d *db.Database, collections ...string) {
	require.NoError(t, d.DropCollections(ctx, collections...))
}
