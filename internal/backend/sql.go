package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/executor"
	"github.com/shaiso/Rollout/internal/inventory"
)

const (
	defaultPostgresPort = 5432
	defaultSSLMode      = "prefer"
)

// SQLRunner выполняет SQL-файлы FT в базе из инвентаря.
//
// Если у вызова есть хост, соединение идёт через SSH-туннель с него.
// Файлы выполняются простым протоколом без общей транзакции, по порядку.
type SQLRunner struct {
	cfg Config

	// connect открывает соединение (подменяется в тестах).
	connect func(ctx context.Context, cfg *pgx.ConnConfig) (sqlConn, error)
}

// sqlConn — то, что SQLRunner использует от pgx.Conn.
type sqlConn interface {
	Exec(ctx context.Context, sql string) ([]string, error)
	Close(ctx context.Context) error
}

// NewSQLRunner создаёт SQLRunner.
func NewSQLRunner(cfg Config) *SQLRunner {
	return &SQLRunner{cfg: cfg.withDefaults(), connect: connectPgx}
}

// Run реализует executor.Runner.
func (r *SQLRunner) Run(ctx context.Context, inv executor.Invocation, emit executor.Emit) (string, error) {
	spec, ok := inv.Step.Spec.(domain.SQLDeployment)
	if !ok {
		return "", fmt.Errorf("%w: %T", executor.ErrUnexpectedSpec, inv.Step.Spec)
	}

	dbc, err := r.cfg.Inventory.DBConnection(spec.DBConnection)
	if err != nil {
		return "", err
	}

	password := ""
	if r.cfg.Secrets != nil {
		password, err = r.cfg.Secrets.Resolve(ctx, spec.DBPassword)
		if err != nil {
			return "", fmt.Errorf("resolve db password: %w", err)
		}
	}

	connCfg, err := pgx.ParseConfig(ConnString(dbc, spec.DBUser, password))
	if err != nil {
		return "", fmt.Errorf("parse connection %s: %w", dbc.Name, err)
	}

	if inv.Target != "" && inv.Target != domain.TargetNone {
		vm, err := r.cfg.Inventory.VM(inv.Target)
		if err != nil {
			return "", err
		}
		connCfg.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return r.cfg.Remote.Dial(ctx, vm, network, addr)
		}
		// Имя сервера БД разрешается на стороне хоста.
		connCfg.LookupFunc = func(_ context.Context, host string) ([]string, error) {
			return []string{host}, nil
		}
		emit(fmt.Sprintf("connecting to %s via %s", dbc.Name, vm.Name))
	} else {
		emit(fmt.Sprintf("connecting to %s", dbc.Name))
	}

	connCfg.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		emit("NOTICE: " + n.Message)
	}

	ft := spec.FTNumber
	if ft == "" {
		ft = inv.FTNumber
	}

	conn, err := r.connect(ctx, connCfg)
	if err != nil {
		return "", fmt.Errorf("connect %s as %s: %w", dbc.Name, spec.DBUser, err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	executed := 0
	for _, file := range spec.Files {
		full := filepath.Join(r.cfg.FilesRoot, ft, file)
		data, err := os.ReadFile(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("%w: %s", ErrMissingFile, full)
			}
			return fmt.Sprintf("%d/%d files executed", executed, len(spec.Files)), err
		}

		emit("executing " + file)
		tags, err := conn.Exec(ctx, string(data))
		for _, tag := range tags {
			emit(tag)
		}
		if err != nil {
			return fmt.Sprintf("%d/%d files executed", executed, len(spec.Files)), fmt.Errorf("%s: %w", file, err)
		}
		executed++
	}

	return fmt.Sprintf("%d/%d files executed on %s", executed, len(spec.Files), dbc.Name), nil
}

// ConnString собирает URL подключения к PostgreSQL.
func ConnString(dbc inventory.DBConnection, user, password string) string {
	port := int(dbc.Port)
	if port == 0 {
		port = defaultPostgresPort
	}
	sslmode := dbc.SSLMode
	if sslmode == "" {
		sslmode = defaultSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(dbc.Hostname, strconv.Itoa(port)),
		Path:     "/" + dbc.DBName,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// pgxConn адаптирует pgx.Conn к sqlConn.
type pgxConn struct {
	conn *pgx.Conn
}

func connectPgx(ctx context.Context, cfg *pgx.ConnConfig) (sqlConn, error) {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

// Exec выполняет скрипт из нескольких команд и возвращает их command tag.
func (c *pgxConn) Exec(ctx context.Context, sql string) ([]string, error) {
	results, err := c.conn.PgConn().Exec(ctx, sql).ReadAll()

	tags := make([]string, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			return tags, res.Err
		}
		if tag := strings.TrimSpace(res.CommandTag.String()); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, err
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
