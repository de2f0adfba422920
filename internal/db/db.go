package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"otonote/internal/auth"
	"otonote/internal/jobs"
)

const sqlitePrefix = "sqlite:"

// Connect opens Postgres for postgres:// URLs and key=value DSNs, and SQLite
// for "sqlite:<path>" (single-node deployments and tests).
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		if !strings.Contains(path, "?") {
			path += "?_busy_timeout=5000&_foreign_keys=on"
		}
		gdb, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; keep a single connection
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// Describe returns a loggable form of the connection string with the
// password removed.
func Describe(dsn string) string {
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		return "sqlite " + path
	}
	kv := dsn
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		parsed, err := pq.ParseURL(dsn)
		if err != nil {
			return "postgres (unparseable url)"
		}
		kv = parsed
	}
	pairs, ok := parseKV(kv)
	if !ok {
		return "postgres (unparseable dsn)"
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p[0] == "password" {
			continue
		}
		out = append(out, p[0]+"="+quoteValue(p[1]))
	}
	return "postgres " + strings.Join(out, " ")
}

// parseKV splits a libpq key=value string, honoring single-quoted values
// and backslash escapes.
func parseKV(s string) ([][2]string, bool) {
	var pairs [][2]string
	i := 0
	for {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i == len(s) {
			return pairs, true
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, false
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1
		for i < len(s) && s[i] == ' ' {
			i++
		}

		var val strings.Builder
		quoted := i < len(s) && s[i] == '\''
		if quoted {
			i++
		}
		closed := !quoted
		for i < len(s) {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				val.WriteByte(s[i+1])
				i += 2
				continue
			}
			if quoted && c == '\'' {
				i++
				closed = true
				break
			}
			if !quoted && c == ' ' {
				break
			}
			val.WriteByte(c)
			i++
		}
		if !closed || key == "" {
			return nil, false
		}
		pairs = append(pairs, [2]string{key, val.String()})
	}
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&jobs.Job{},
		&auth.User{},
	); err != nil {
		return err
	}

	stmts := []string{
		// claim order: oldest queued first, ties by id
		`create index if not exists idx_jobs_claim on jobs(status, created_at, id);`,
		`create index if not exists idx_jobs_lease on jobs(status, heartbeat_at);`,
		`create index if not exists idx_jobs_user_created on jobs(user_id, created_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
