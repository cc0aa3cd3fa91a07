package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	xerrors "github.com/meaningfill/class-sub000/internal/errors"
)

// 支持的驱动。
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config 描述数据库连接参数。
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	// SkipMigrations 为 true 时不执行内嵌迁移，由 migrate 子命令单独完成。
	SkipMigrations bool `yaml:"skip_migrations"`
}

// DB 封装连接池与方言。
type DB struct {
	db      *sql.DB
	dialect string
}

// Open 建立连接池并按需执行迁移。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMySQL
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	switch driver {
	case DriverMySQL:
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 MySQL DSN 失败")
		}
		if parsed.Params == nil {
			parsed.Params = map[string]string{}
		}
		if _, ok := parsed.Params["charset"]; !ok {
			parsed.Params["charset"] = "utf8mb4"
		}
		dsn = parsed.FormatDSN()
	case DriverSQLite:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的数据库驱动: "+driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "打开数据库失败")
	}
	applyPool(db, driver, cfg)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "无法连接到数据库")
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodePersistenceFailure, err, "设置 SQLite busy_timeout 失败")
		}
	}

	store := &DB{db: db, dialect: driver}
	if !cfg.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithDB 使用已有连接池构造 DB，不执行迁移。
func NewWithDB(db *sql.DB, dialect string) *DB {
	return &DB{db: db, dialect: dialect}
}

// Dialect 返回当前方言。
func (d *DB) Dialect() string { return d.dialect }

// Close 关闭连接池。
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func applyPool(db *sql.DB, driver string, cfg Config) {
	// SQLite 单写者，串行化连接避免 SQLITE_BUSY
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// forUpdate 返回行锁后缀，SQLite 依赖单连接串行化。
func (d *DB) forUpdate() string {
	if d.dialect == DriverMySQL {
		return " FOR UPDATE"
	}
	return ""
}

// isDuplicate 判断唯一键冲突。
func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
