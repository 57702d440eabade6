package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/db"
	"github.com/permitguard/permitguard/internal/db/migrations"
	"github.com/permitguard/permitguard/internal/dbpool"
	"github.com/permitguard/permitguard/internal/store"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL, 10)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		t.Fatalf("migrating test DB: %v", err)
	}

	sharedEnv = &testEnv{
		pool: pool,
		log:  log,
	}

	return sharedEnv
}

// setupTestBase returns a Base and a fresh subject ID whose rows are
// removed after the test.
func setupTestBase(t *testing.T) (store.Base, string) {
	t.Helper()

	env := getTestEnv(t)
	subjectID := "subj_" + uuid.NewString()

	t.Cleanup(func() {
		ctx := context.Background()
		for _, q := range []string{
			"DELETE FROM audit_entries WHERE subject_id = $1",
			"DELETE FROM lockout_states WHERE subject_id = $1",
			"DELETE FROM verification_challenges WHERE subject_id = $1",
			"DELETE FROM applied_changes WHERE subject_id = $1",
			"DELETE FROM approval_requests WHERE subject_id = $1",
			"DELETE FROM subjects WHERE id = $1",
		} {
			if _, err := env.pool.Exec(ctx, q, subjectID); err != nil {
				t.Logf("cleanup %q: %v", q, err)
			}
		}
	})

	return store.Base{Pool: env.pool, Log: env.log}, subjectID
}
