package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the chat store. DSNs prefixed with mysql:// go to MySQL,
// everything else is treated as a SQLite path or URI.
func Connect(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	isSQLite := true
	if rest, ok := strings.CutPrefix(dsn, "mysql://"); ok {
		dialector = mysql.Open(rest)
		isSQLite = false
	} else {
		dialector = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(&zerologWriter{log: log}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if isSQLite {
		// one writer; keeps multi-statement transactions from hitting SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return gdb, nil
}

type zerologWriter struct {
	log zerolog.Logger
}

func (w *zerologWriter) Printf(format string, args ...any) {
	w.log.Warn().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
