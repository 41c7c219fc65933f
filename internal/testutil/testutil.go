package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testIDCounter is used to generate unique test IDs
var testIDCounter uint64

// TestConfig holds test configuration
type TestConfig struct {
	MySQLDSN    string
	PostgresDSN string
}

// DefaultTestConfig returns default test configuration
func DefaultTestConfig() TestConfig {
	mysqlDSN := os.Getenv("TEST_MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "jobcore_test:jobcore_test@tcp(localhost:3307)/jobcore_test?charset=utf8mb4&parseTime=True&loc=Local"
	}

	postgresDSN := os.Getenv("TEST_POSTGRES_DSN")
	if postgresDSN == "" {
		postgresDSN = "host=localhost port=5433 user=jobcore_test password=jobcore_test dbname=jobcore_test sslmode=disable"
	}

	return TestConfig{
		MySQLDSN:    mysqlDSN,
		PostgresDSN: postgresDSN,
	}
}

// NewTestLogger creates a test logger
func NewTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewNopLogger creates a no-op logger for benchmarks
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}

// NewTestSQLiteDB opens an in-memory SQLite connection for tests that need a
// real *gorm.DB (and its SQL-level aggregate queries) without any external
// service.
func NewTestSQLiteDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// NewTestMySQLDB creates a MySQL connection for testing
func NewTestMySQLDB(t *testing.T, config TestConfig) *gorm.DB {
	db, err := gorm.Open(mysql.Open(config.MySQLDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// NewTestPostgresDB creates a PostgreSQL connection for testing
func NewTestPostgresDB(t *testing.T, config TestConfig) *gorm.DB {
	db, err := gorm.Open(postgres.Open(config.PostgresDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// SkipIfNoMySQL skips the test if MySQL is not available
func SkipIfNoMySQL(t *testing.T) {
	config := DefaultTestConfig()
	db, err := gorm.Open(mysql.Open(config.MySQLDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skip("MySQL not available")
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()
}

// SkipIfNoPostgres skips the test if PostgreSQL is not available
func SkipIfNoPostgres(t *testing.T) {
	config := DefaultTestConfig()
	db, err := gorm.Open(postgres.Open(config.PostgresDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skip("PostgreSQL not available")
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()
}

// WaitForCondition waits for a condition to be true
func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for condition: %s", message)
}

// AssertEventually asserts that a condition becomes true within timeout
func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("Condition never became true: %v", msgAndArgs)
	return false
}

// GenerateTestID generates a unique test ID using an atomic counter
func GenerateTestID() string {
	id := atomic.AddUint64(&testIDCounter, 1)
	return fmt.Sprintf("test-%d-%d", time.Now().UnixNano(), id)
}

// SkipIfShort skips the test if running in short mode
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}
}
