package dbms

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
	"dbvault/internal/tools"
)

// Postgres restores and dumps PostgreSQL databases. Probes run over a
// live SQL connection; the data path shells out to pg_restore and psql.
type Postgres struct {
	log    logger.Logger
	tools  *tools.Validator
	runner toolRunner

	// openDB is swapped for a mock connector in tests.
	openDB func(driverName, dsn string) (*sql.DB, error)
}

// NewPostgres builds the PostgreSQL adapter.
func NewPostgres(log logger.Logger) *Postgres {
	return &Postgres{
		log:    log,
		tools:  tools.NewValidator(log),
		runner: toolRunner{log: log},
		openDB: sql.Open,
	}
}

// Descriptor reports the static adapter properties.
func (p *Postgres) Descriptor() adapter.Descriptor {
	return adapter.Descriptor{ID: "postgres", DisplayName: "PostgreSQL", EditionSensitive: false}
}

// --- Connection handling ---

// pgConn is the connection shape extracted from an adapter config.
type pgConn struct {
	host     string
	port     int
	user     string
	password string
	database string
	sslMode  string
}

func pgConnFromConfig(cfg adapter.Config) pgConn {
	c := pgConn{
		host:     cfg.ParamOr("host", "localhost"),
		user:     cfg.ParamOr("user", "postgres"),
		password: cfg.Param("password"),
		database: cfg.ParamOr("database", "postgres"),
		sslMode:  cfg.Param("sslMode"),
	}
	c.port, _ = strconv.Atoi(cfg.ParamOr("port", "5432"))
	if c.port <= 0 {
		c.port = 5432
	}
	// Privileged restore credentials take precedence when supplied.
	if u := cfg.Param(adapter.ParamPrivilegedUser); u != "" {
		c.user = u
		c.password = cfg.Param(adapter.ParamPrivilegedPassword)
	}
	return c
}

func (c pgConn) isSocket() bool {
	return strings.HasPrefix(c.host, "/")
}

func (c pgConn) isLocal() bool {
	return c.host == "localhost" || c.host == "127.0.0.1" || c.host == ""
}

// pgSocketDirs are probed for a live server socket when connecting to
// localhost without a password. Sockets avoid the localhost/::1
// pg_hba.conf surprises and enable peer authentication.
var pgSocketDirs = []string{"/var/run/postgresql", "/tmp", "/var/lib/pgsql"}

// dsn builds a pgx connection string for dbname: keyword format for
// Unix sockets, URL format for TCP.
func (c pgConn) dsn(dbname string) string {
	if c.isSocket() {
		kw := fmt.Sprintf("user=%s dbname=%s host=%s port=%d sslmode=disable",
			c.user, dbname, c.host, c.port)
		if c.password != "" {
			kw += " password=" + c.password
		}
		return kw
	}

	if c.isLocal() && c.password == "" {
		for _, dir := range pgSocketDirs {
			socketPath := fmt.Sprintf("%s/.s.PGSQL.%d", dir, c.port)
			if _, err := os.Stat(socketPath); err == nil {
				return fmt.Sprintf("user=%s dbname=%s host=%s port=%d sslmode=disable",
					c.user, dbname, dir, c.port)
			}
		}
	}

	host := c.host
	if host == "" {
		host = "localhost"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(c.port)),
		Path:   "/" + dbname,
	}
	if c.password != "" {
		u.User = url.UserPassword(c.user, c.password)
	} else {
		u.User = url.User(c.user)
	}
	q := url.Values{}
	q.Set("sslmode", normalizeSSLMode(c.sslMode))
	q.Set("application_name", "dbvault")
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()
	return u.String()
}

// normalizeSSLMode maps user-facing sslMode spellings onto libpq values.
func normalizeSSLMode(mode string) string {
	switch strings.ToLower(mode) {
	case "require", "required":
		return "require"
	case "verify-ca":
		return "verify-ca"
	case "verify-full", "verify-identity":
		return "verify-full"
	case "disable", "disabled":
		return "disable"
	default:
		return "prefer"
	}
}

// commandArgs builds the connection argument stanza shared by the
// client tools. Socket paths go through -h with no port so peer auth
// works; remote hosts get --no-password so a bad credential fails
// instead of prompting forever.
func (c pgConn) commandArgs() []string {
	var args []string
	switch {
	case c.isSocket():
		args = append(args, "-h", c.host)
	case !c.isLocal():
		args = append(args, "-h", c.host, "--no-password", "-p", strconv.Itoa(c.port))
	default:
		args = append(args, "-p", strconv.Itoa(c.port))
	}
	return append(args, "-U", c.user)
}

// env returns the extra environment for the client tools. The password
// travels via PGPASSWORD, never argv, so it stays out of process lists.
func (c pgConn) env() []string {
	if c.password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + c.password}
}

// sanitizeDSN masks the password in a DSN for logging. Handles both
// keyword=value and URL formats.
func sanitizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		schemeEnd := strings.Index(dsn, "://") + 3
		rest := dsn[schemeEnd:]
		if atIdx := strings.Index(rest, "@"); atIdx >= 0 {
			userPart := rest[:atIdx]
			if colonIdx := strings.Index(userPart, ":"); colonIdx >= 0 {
				return dsn[:schemeEnd] + userPart[:colonIdx] + ":***" + rest[atIdx:]
			}
		}
		return dsn
	}

	parts := strings.Split(dsn, " ")
	for i, part := range parts {
		if strings.HasPrefix(part, "password=") {
			parts[i] = "password=***"
		}
	}
	return strings.Join(parts, " ")
}

// --- Probes ---

// Test probes the server and reports the detected version.
func (p *Postgres) Test(ctx context.Context, cfg adapter.Config) adapter.TestResult {
	conn := pgConnFromConfig(cfg)
	dsn := conn.dsn(conn.database)
	p.log.Debug("probing postgres", "dsn", sanitizeDSN(dsn))

	db, err := p.openDB("pgx", dsn)
	if err != nil {
		return adapter.TestResult{Message: err.Error()}
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var banner string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&banner); err != nil {
		msg := err.Error()
		if hint := pgConnectionHint(err, conn); hint != "" {
			msg += " (" + hint + ")"
		}
		return adapter.TestResult{Message: msg}
	}

	version := parsePostgresVersion(banner)
	return adapter.TestResult{
		Success: true,
		Message: fmt.Sprintf("connected to PostgreSQL %s", version),
		Version: version,
	}
}

// PrepareRestore verifies that the configured role can create or
// overwrite every named database. Read-only probes, nothing mutates.
func (p *Postgres) PrepareRestore(ctx context.Context, cfg adapter.Config, databases []string) error {
	if err := p.tools.RequireAll(tools.PostgresRestoreTools()); err != nil {
		return err
	}

	conn := pgConnFromConfig(cfg)
	db, err := p.openDB("pgx", conn.dsn(conn.database))
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot open connection to %s: %v", conn.host, err), err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var canCreate bool
	err = db.QueryRowContext(ctx,
		"SELECT rolcreatedb OR rolsuper FROM pg_roles WHERE rolname = current_user").Scan(&canCreate)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot inspect privileges of role %q: %v", conn.user, err), err)
	}

	for _, name := range databases {
		var exists bool
		err := db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
		if err != nil {
			return errors.NewRestoreError(errors.ErrCodePrepareFailed,
				fmt.Sprintf("cannot check for database %q: %v", name, err), err)
		}

		if !exists {
			if !canCreate {
				return errors.NewRestoreError(errors.ErrCodePrepareFailed,
					fmt.Sprintf("database %q does not exist and role %q may not create databases", name, conn.user), nil).
					WithDetails("Grant CREATEDB to the role, create the database up front, or restore with privileged credentials.")
			}
			continue
		}

		var canConnect bool
		err = db.QueryRowContext(ctx,
			"SELECT has_database_privilege($1, 'CONNECT')", name).Scan(&canConnect)
		if err != nil {
			return errors.NewRestoreError(errors.ErrCodePrepareFailed,
				fmt.Sprintf("cannot check access to database %q: %v", name, err), err)
		}
		if !canConnect {
			return errors.NewRestoreError(errors.ErrCodePrepareFailed,
				fmt.Sprintf("role %q may not connect to existing database %q", conn.user, name), nil).
				WithDetails("Grant CONNECT on the database or restore with privileged credentials.")
		}
	}
	return nil
}

// pgConnectionHint maps common PostgreSQL connection failures onto
// one-line fix suggestions. Empty when no hint applies.
func pgConnectionHint(err error, c pgConn) string {
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "password authentication failed"):
		return fmt.Sprintf("hint: wrong password for role %q", c.user)
	case strings.Contains(e, "peer authentication failed"):
		return fmt.Sprintf("hint: peer auth requires the OS user to match role %q, or set a password on the config", c.user)
	case strings.Contains(e, "connection refused"):
		return fmt.Sprintf("hint: no PostgreSQL listening on %s:%d", c.host, c.port)
	case strings.Contains(e, "no such host"):
		return fmt.Sprintf("hint: hostname %q does not resolve", c.host)
	case strings.Contains(e, "timeout"), strings.Contains(e, "timed out"):
		return fmt.Sprintf("hint: connection to %s:%d timed out, check firewalls and listen_addresses", c.host, c.port)
	case strings.Contains(e, "role") && strings.Contains(e, "does not exist"):
		return fmt.Sprintf("hint: role %q does not exist on the server", c.user)
	case strings.Contains(e, "database") && strings.Contains(e, "does not exist"):
		return fmt.Sprintf("hint: database %q does not exist on the server", c.database)
	case strings.Contains(e, "ssl") && strings.Contains(e, "not supported"):
		return "hint: server refuses SSL, set sslMode=disable"
	default:
		return ""
	}
}

// parsePostgresVersion extracts the bare version from a server banner
// like "PostgreSQL 16.2 (Debian 16.2-1.pgdg120+1) on x86_64-pc-linux-gnu".
func parsePostgresVersion(banner string) string {
	fields := strings.Fields(banner)
	if len(fields) >= 2 && fields[0] == "PostgreSQL" {
		return strings.TrimSuffix(fields[1], ",")
	}
	return ""
}

// --- Data path ---

// Restore loads the artifact at sourcePath into the target database.
// pg_dump custom archives go through pg_restore; everything else is
// treated as a plain SQL script and piped into psql.
func (p *Postgres) Restore(ctx context.Context, cfg adapter.Config, sourcePath string, onLog adapter.LogFunc, onProgress adapter.ProgressFunc) error {
	if err := p.tools.RequireAll(tools.PostgresRestoreTools()); err != nil {
		return err
	}

	conn := pgConnFromConfig(cfg)
	target := cfg.ParamOr(adapter.ParamTargetDatabase, conn.database)

	format, err := detectFormat(sourcePath)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			fmt.Sprintf("cannot read artifact %s: %v", sourcePath, err), err)
	}

	if err := p.ensureDatabase(ctx, conn, target); err != nil {
		return err
	}

	switch format {
	case formatPGCustom:
		p.log.Info("restoring custom-format archive",
			"database", target, "source", filepath.Base(sourcePath))

		err = p.runner.run(ctx, toolCmd{
			name: "pg_restore",
			args: pgRestoreArgs(conn, target, sourcePath),
			env:  conn.env(),
		}, onLog)

	default:
		p.log.Info("restoring plain SQL script",
			"database", target, "source", filepath.Base(sourcePath))

		f, openErr := os.Open(sourcePath)
		if openErr != nil {
			return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
				fmt.Sprintf("cannot open artifact %s: %v", sourcePath, openErr), openErr)
		}
		defer f.Close()
		st, statErr := f.Stat()
		if statErr != nil {
			return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
				fmt.Sprintf("cannot stat artifact %s: %v", sourcePath, statErr), statErr)
		}

		err = p.runner.run(ctx, toolCmd{
			name:  "psql",
			args:  psqlScriptArgs(conn, target),
			env:   conn.env(),
			stdin: adapter.NewProgressReader(f, st.Size(), onProgress),
		}, onLog)
	}

	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			fmt.Sprintf("restore of database %q failed: %v", target, err), err)
	}

	p.log.Info("restore completed", "database", target)
	return nil
}

// pgRestoreArgs assembles the pg_restore invocation for a custom-format
// archive. --no-data-for-failed-tables is only safe together with
// --clean: without it a failed CREATE silently skips the table's data
// and the restore looks successful while empty.
func pgRestoreArgs(c pgConn, target, sourcePath string) []string {
	args := c.commandArgs()
	return append(args,
		"--clean", "--if-exists", "--no-owner", "--no-privileges",
		"--no-data-for-failed-tables",
		"-d", target,
		sourcePath,
	)
}

// psqlScriptArgs assembles the psql invocation for a plain SQL script
// read from stdin. ON_ERROR_STOP fails fast on the first error instead
// of grinding through a truncated script.
func psqlScriptArgs(c pgConn, target string) []string {
	args := c.commandArgs()
	return append(args, "-d", target, "-v", "ON_ERROR_STOP=1")
}

// ensureDatabase creates the target database when it does not exist.
// pg_restore --clean drops objects inside the database, not the
// database itself, so the target must exist before the tool runs.
func (p *Postgres) ensureDatabase(ctx context.Context, conn pgConn, name string) error {
	if err := validateIdentifier(name); err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("invalid target database name: %v", err), err)
	}

	db, err := p.openDB("pgx", conn.dsn(conn.database))
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot open connection to %s: %v", conn.host, err), err)
	}
	defer db.Close()

	var exists bool
	err = db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot check for database %q: %v", name, err), err)
	}
	if exists {
		return nil
	}

	p.log.Info("creating database", "database", name)
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+quotePGIdentifier(name)); err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot create database %q: %v", name, err), err)
	}
	return nil
}

// Dump writes a custom-format archive of the configured database to
// destPath.
func (p *Postgres) Dump(ctx context.Context, cfg adapter.Config, destPath string, onLog adapter.LogFunc, onProgress adapter.ProgressFunc) error {
	if err := p.tools.RequireAll(tools.PostgresDumpTools()); err != nil {
		return err
	}

	conn := pgConnFromConfig(cfg)
	dbname := cfg.ParamOr(adapter.ParamSourceDatabase, conn.database)

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeDumpFailed,
			fmt.Sprintf("cannot create dump file %s: %v", destPath, err), err)
	}
	defer out.Close()

	p.log.Info("dumping database", "database", dbname, "dest", filepath.Base(destPath))

	args := conn.commandArgs()
	args = append(args, "--format=custom", dbname)
	err = p.runner.run(ctx, toolCmd{
		name:   "pg_dump",
		args:   args,
		env:    conn.env(),
		stdout: adapter.NewProgressWriter(out, -1, onProgress),
	}, onLog)
	if err != nil {
		os.Remove(destPath)
		return errors.NewRestoreError(errors.ErrCodeDumpFailed,
			fmt.Sprintf("dump of database %q failed: %v", dbname, err), err)
	}
	return out.Sync()
}
