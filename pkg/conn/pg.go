package conn

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"perpbot/pkg/exception"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultPingTimeout     = 5 * time.Second
)

// Option defines connection options for PostgreSQL.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Config *gorm.Config
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New opens a pool from the provided options and pings it.
func New(ctx context.Context, option Option) (*Client, error) {
	connString, err := option.DSN()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrJournal, "open postgres %s: %s", option.Redacted(), err.Error())
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrapf(exception.ErrJournal, "postgres pool: %s", err.Error())
	}
	if option.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(option.MaxOpenConns)
	}
	if option.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(option.MaxIdleConns)
	}
	if option.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(option.ConnMaxLifetime)
	}

	c := &Client{opt: option, db: db}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewFromDB wraps an already opened gorm handle.
func NewFromDB(db *gorm.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Ping checks the pool can reach the server.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.Wrap(exception.ErrNilInstance, "postgres client")
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return errors.Wrapf(exception.ErrJournal, "postgres pool: %s", err.Error())
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrapf(exception.ErrJournal, "ping postgres %s: %s", c.opt.Redacted(), err.Error())
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DSN builds the connection string. A ConnString wins when set and is passed
// through as written, in URL or keyword/value form.
func (opt Option) DSN() (string, error) {
	if opt.ConnString != "" {
		if _, err := pgconn.ParseConfig(opt.ConnString); err != nil {
			// the parse error masks the password
			return "", errors.Wrapf(exception.ErrConfig, "postgres conn string: %s", err.Error())
		}
		return opt.ConnString, nil
	}
	u, err := opt.url()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

var keywordPassword = regexp.MustCompile(`(password\s*=\s*)('(?:[^'\\]|\\.)*'|[^\s&]*)`)

// Redacted is the DSN with the password masked, safe for logs.
func (opt Option) Redacted() string {
	if opt.ConnString == "" {
		u, err := opt.url()
		if err != nil {
			return "<invalid dsn>"
		}
		return u.Redacted()
	}

	dsn := opt.ConnString
	if isURL(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return "<invalid dsn>"
		}
		dsn = u.Redacted()
	}
	return keywordPassword.ReplaceAllString(dsn, "${1}xxxxx")
}

func isURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (opt Option) url() (*url.URL, error) {
	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	if port < 0 || port > 65535 {
		return nil, errors.Wrapf(exception.ErrConfig, "postgres port %d", port)
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u, nil
}
