package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQueryThreshold flags queries slower than this in the log.
const DefaultSlowQueryThreshold = 1 * time.Second

// sqlUnknown is used when the SQL operation or table cannot be determined.
const sqlUnknown = "unknown"

func getLogger() *slog.Logger {
	return logging.ForService("datastore")
}

// GormLogger implements GORM's logger interface on top of structured logging.
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

// NewGormLogger creates a new GORM logger instance.
func NewGormLogger(slowThreshold time.Duration, logLevel gormlogger.LogLevel) *GormLogger {
	return &GormLogger{
		SlowThreshold: slowThreshold,
		LogLevel:      logLevel,
	}
}

// createGormLogger configures the GORM logger used by both dialectors.
func createGormLogger() gormlogger.Interface {
	return NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn)
}

// LogMode implements gormlogger.Interface.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info implements gormlogger.Interface.
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		getLogger().InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements gormlogger.Interface.
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		getLogger().WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements gormlogger.Interface.
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		getLogger().ErrorContext(ctx, "gorm error", "msg", fmt.Sprintf(msg, data...))
	}
}

// Trace implements gormlogger.Interface. Failed queries log as errors,
// queries above the slow threshold as warnings, everything else at debug
// when the level allows it.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	operation, table := parseSQLOperation(sql)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		enhancedErr := errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", operation).
			Context("table", table).
			Context("duration_ms", elapsed.Milliseconds()).
			Build()

		getLogger().ErrorContext(ctx, "database query failed",
			"error", enhancedErr,
			"sql", sql,
			"operation", operation,
			"table", table,
			"duration", elapsed,
			"rows_affected", rows,
			"error_category", categorizeError(err))

	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		getLogger().WarnContext(ctx, "slow query detected",
			"sql", sql,
			"operation", operation,
			"table", table,
			"duration", elapsed,
			"rows_affected", rows,
			"threshold", l.SlowThreshold)

	case l.LogLevel >= gormlogger.Info:
		getLogger().DebugContext(ctx, "query executed",
			"sql", sql,
			"operation", operation,
			"table", table,
			"duration", elapsed,
			"rows_affected", rows)
	}
}

// sqlPatterns pairs each statement verb with a pattern capturing its table
// name, optionally quoted or backticked. Checked in order.
var sqlPatterns = []struct {
	operation string
	re        *regexp.Regexp
}{
	{"select", regexp.MustCompile(`(?i)^\s*SELECT\s+.*?\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)},
	{"insert", regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+['"\x60]?(\w+)['"\x60]?`)},
	{"update", regexp.MustCompile(`(?i)^\s*UPDATE\s+['"\x60]?(\w+)['"\x60]?`)},
	{"delete", regexp.MustCompile(`(?i)^\s*DELETE\s+FROM\s+['"\x60]?(\w+)['"\x60]?`)},
	{"create", regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?['"\x60]?(\w+)['"\x60]?`)},
	{"drop", regexp.MustCompile(`(?i)^\s*DROP\s+TABLE\s+(?:IF\s+EXISTS\s+)?['"\x60]?(\w+)['"\x60]?`)},
	{"alter", regexp.MustCompile(`(?i)^\s*ALTER\s+TABLE\s+['"\x60]?(\w+)['"\x60]?`)},
}

// parseSQLOperation extracts the operation type and table name from a SQL
// query for log labels.
func parseSQLOperation(sql string) (operation, table string) {
	sql = strings.TrimSpace(sql)
	for _, p := range sqlPatterns {
		if matches := p.re.FindStringSubmatch(sql); len(matches) > 1 {
			return p.operation, matches[1]
		}
	}
	return sqlUnknown, sqlUnknown
}

// errorBuckets maps message substrings to coarse log buckets, checked in
// order so the more specific entries win.
var errorBuckets = []struct {
	substring string
	bucket    string
}{
	{"unique constraint", "constraint_violation"},
	{"duplicate key", "constraint_violation"},
	{"deadlock", "deadlock"},
	{"foreign key", "foreign_key_violation"},
	{"not null", "null_violation"},
	{"database is locked", "database_locked"},
	{"connection", "connection_error"},
	{"timeout", "timeout"},
	{"syntax", "syntax_error"},
	{"permission", "permission_denied"},
	{"denied", "permission_denied"},
	{"disk full", "disk_full"},
	{"no space", "disk_full"},
}

// categorizeError maps database errors onto coarse buckets for logs.
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	errStr := strings.ToLower(err.Error())
	for _, b := range errorBuckets {
		if strings.Contains(errStr, b.substring) {
			return b.bucket
		}
	}
	return "other"
}
