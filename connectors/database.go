package connectors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/opsloop/orchestrator-core/domain"
)

// DatabaseConnector runs a SQL statement against the target DSN, picking
// the registered database/sql driver by cfg.DBDialect ("postgres" via
// lib/pq, "mysql" via go-sql-driver/mysql). It treats the whole command
// string as one statement executed with database/sql's Exec, not a
// transaction — matching the "uniform execute()" contract's flat
// command/output/error shape rather than a result-set API.
type DatabaseConnector struct{}

func dbDriverName(dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return "mysql"
	default:
		return "postgres"
	}
}

func (DatabaseConnector) Execute(ctx context.Context, command string, cfg Config, timeout time.Duration) (domain.StepResult, error) {
	return executeWithRetry(ctx, cfg, nil, func(attemptCtx context.Context, attemptTimeout time.Duration) domain.StepResult {
		start := time.Now()
		driver := dbDriverName(cfg.DBDialect)
		db, err := sql.Open(driver, cfg.DBDSN)
		if err != nil {
			return domain.StepResult{ConnectionError: true, Error: Redact(fmt.Sprintf("db open failed: %v", err)), DurationMS: time.Since(start).Milliseconds()}
		}
		defer db.Close()

		if err := db.PingContext(attemptCtx); err != nil {
			return domain.StepResult{
				ConnectionError: true,
				Error:           Redact(fmt.Sprintf("db connection failed: %v", err)),
				DurationMS:      time.Since(start).Milliseconds(),
			}
		}

		result, err := db.ExecContext(attemptCtx, command)
		res := domain.StepResult{DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			if attemptCtx.Err() != nil {
				res.FailureKind = string(FailureTimeout)
				res.Error = "database statement timed out"
				return res
			}
			// A connected session that rejects the statement (bad SQL,
			// constraint violation) is a command-level failure, not a
			// transport problem.
			res.Error = Redact(err.Error())
			res.ExitCode = 1
			return res
		}
		rows, _ := result.RowsAffected()
		res.Success = true
		res.Output = fmt.Sprintf("rows_affected=%d", rows)
		return res
	}), nil
}
