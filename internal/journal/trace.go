package journal

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// traceConnector opens sqlite3 connections that log every statement at
// debug level. Use with sql.OpenDB.
type traceConnector struct {
	dsn    string
	logger *slog.Logger
	driver *sqlite3.SQLiteDriver
}

func newTraceConnector(dsn string, logger *slog.Logger) *traceConnector {
	return &traceConnector{dsn: dsn, logger: logger, driver: &sqlite3.SQLiteDriver{}}
}

func (c *traceConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	sc, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("journal trace: unexpected conn type %T", conn)
	}
	return &traceConn{SQLiteConn: sc, logger: c.logger}, nil
}

func (c *traceConnector) Driver() driver.Driver { return c.driver }

// traceConn intercepts the context-aware fast paths database/sql prefers
// and leaves the rest to the embedded connection.
type traceConn struct {
	*sqlite3.SQLiteConn
	logger *slog.Logger
}

func (c *traceConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	c.log(ctx, "exec", query, args, start, err)
	return res, err
}

func (c *traceConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	c.log(ctx, "query", query, args, start, err)
	return rows, err
}

func (c *traceConn) log(ctx context.Context, op, query string, args []driver.NamedValue, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"sql", query,
		"args", formatArgs(args),
		"took", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.logger.DebugContext(ctx, "journal: sql", attrs...)
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		var v string
		switch t := a.Value.(type) {
		case nil:
			v = "NULL"
		case []byte:
			v = string(t)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
