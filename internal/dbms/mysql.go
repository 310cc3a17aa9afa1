package dbms

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
	"dbvault/internal/tools"
)

// MySQL restores and dumps MySQL and MariaDB databases. One
// implementation serves both families: the wire protocol and client
// tools are shared, only the descriptor and edition handling differ.
type MySQL struct {
	log    logger.Logger
	tools  *tools.Validator
	runner toolRunner
	flavor string // "mysql" or "mariadb"

	// openDB is swapped for a mock connector in tests.
	openDB func(driverName, dsn string) (*sql.DB, error)
}

// NewMySQL builds the MySQL adapter.
func NewMySQL(log logger.Logger) *MySQL {
	return newMySQLFlavor(log, "mysql")
}

// NewMariaDB builds the MariaDB adapter.
func NewMariaDB(log logger.Logger) *MySQL {
	return newMySQLFlavor(log, "mariadb")
}

func newMySQLFlavor(log logger.Logger, flavor string) *MySQL {
	return &MySQL{
		log:    log,
		tools:  tools.NewValidator(log),
		runner: toolRunner{log: log},
		flavor: flavor,
		openDB: sql.Open,
	}
}

// Descriptor reports the static adapter properties. MySQL proper is
// edition sensitive: Enterprise dumps may reference features a
// Community server does not have.
func (m *MySQL) Descriptor() adapter.Descriptor {
	if m.flavor == "mariadb" {
		return adapter.Descriptor{ID: "mariadb", DisplayName: "MariaDB", EditionSensitive: false}
	}
	return adapter.Descriptor{ID: "mysql", DisplayName: "MySQL", EditionSensitive: true}
}

// --- Connection handling ---

// myConn is the connection shape extracted from an adapter config.
type myConn struct {
	host     string
	port     int
	user     string
	password string
	database string
}

func myConnFromConfig(cfg adapter.Config) myConn {
	c := myConn{
		host:     cfg.ParamOr("host", "localhost"),
		user:     cfg.ParamOr("user", "root"),
		password: cfg.Param("password"),
		database: cfg.Param("database"),
	}
	c.port, _ = strconv.Atoi(cfg.ParamOr("port", "3306"))
	if c.port <= 0 {
		c.port = 3306
	}
	// Privileged restore credentials take precedence when supplied.
	if u := cfg.Param(adapter.ParamPrivilegedUser); u != "" {
		c.user = u
		c.password = cfg.Param(adapter.ParamPrivilegedPassword)
	}
	return c
}

func (c myConn) isSocket() bool {
	return strings.HasPrefix(c.host, "/")
}

// dsn builds a go-sql-driver DSN for dbname. An empty dbname connects
// without a default schema, which is what the probes want.
func (c myConn) dsn(dbname string) string {
	mc := mysql.NewConfig()
	mc.User = c.user
	mc.Passwd = c.password
	if c.isSocket() {
		mc.Net = "unix"
		mc.Addr = c.host
	} else {
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.host, strconv.Itoa(c.port))
	}
	mc.DBName = dbname
	mc.Timeout = probeTimeout
	return mc.FormatDSN()
}

// commandArgs builds the connection argument stanza for the client
// tools. A socket path goes through -S; a bare localhost is left to the
// client's own socket detection, matching how the server was probed.
func (c myConn) commandArgs() []string {
	var args []string
	if c.isSocket() {
		args = append(args, "-S", c.host)
	} else if c.host != "" && c.host != "localhost" {
		args = append(args, "-h", c.host, "-P", strconv.Itoa(c.port))
	}
	return append(args, "-u", c.user)
}

// env returns the extra environment for the client tools. The password
// travels via MYSQL_PWD, never argv, so it stays out of process lists.
func (c myConn) env() []string {
	if c.password == "" {
		return nil
	}
	return []string{"MYSQL_PWD=" + c.password}
}

// --- Probes ---

// Test probes the server and reports the detected version and edition.
func (m *MySQL) Test(ctx context.Context, cfg adapter.Config) adapter.TestResult {
	conn := myConnFromConfig(cfg)

	db, err := m.openDB("mysql", conn.dsn(conn.database))
	if err != nil {
		return adapter.TestResult{Message: err.Error()}
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var raw string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&raw); err != nil {
		msg := err.Error()
		if hint := myConnectionHint(err, conn); hint != "" {
			msg += " (" + hint + ")"
		}
		return adapter.TestResult{Message: msg}
	}

	// @@version_comment distinguishes Community from Enterprise builds
	// and flags MariaDB servers. Absence is not an error.
	var comment string
	_ = db.QueryRowContext(ctx, "SELECT @@version_comment").Scan(&comment)

	version := parseMySQLVersion(raw)
	family := "MySQL"
	if strings.Contains(raw, "MariaDB") || strings.Contains(comment, "MariaDB") {
		family = "MariaDB"
	}

	result := adapter.TestResult{
		Success: true,
		Message: fmt.Sprintf("connected to %s %s", family, version),
		Version: version,
		Edition: editionFromComment(comment),
	}
	if m.flavor == "mysql" && family == "MariaDB" {
		result.Message += " (configured adapter is mysql)"
	}
	if m.flavor == "mariadb" && family == "MySQL" {
		result.Message += " (configured adapter is mariadb)"
	}
	return result
}

// PrepareRestore verifies that the configured account can create or
// overwrite every named database. Read-only probes, nothing mutates.
func (m *MySQL) PrepareRestore(ctx context.Context, cfg adapter.Config, databases []string) error {
	if err := m.tools.RequireAll(tools.MySQLRestoreTools()); err != nil {
		return err
	}

	conn := myConnFromConfig(cfg)
	db, err := m.openDB("mysql", conn.dsn(""))
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot open connection to %s: %v", conn.host, err), err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	grants, err := showGrants(ctx, db)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot read grants for %q: %v", conn.user, err), err)
	}

	for _, name := range databases {
		var schema string
		err := db.QueryRowContext(ctx,
			"SELECT SCHEMA_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?", name).Scan(&schema)
		exists := err == nil
		if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
			return errors.NewRestoreError(errors.ErrCodePrepareFailed,
				fmt.Sprintf("cannot check for database %q: %v", name, err), err)
		}

		if !exists {
			if !grantPermits(grants, "CREATE", name) {
				return errors.NewRestoreError(errors.ErrCodePrepareFailed,
					fmt.Sprintf("database %q does not exist and account %q may not create databases", name, conn.user), nil).
					WithDetails("Grant CREATE on the schema or restore with privileged credentials.")
			}
			continue
		}

		var missing []string
		for _, priv := range []string{"CREATE", "DROP", "INSERT"} {
			if !grantPermits(grants, priv, name) {
				missing = append(missing, priv)
			}
		}
		if len(missing) > 0 {
			return errors.NewRestoreError(errors.ErrCodePrepareFailed,
				fmt.Sprintf("account %q lacks %s on existing database %q",
					conn.user, strings.Join(missing, ", "), name), nil).
				WithDetails("Overwriting a database needs CREATE, DROP and INSERT on its schema.")
		}
	}
	return nil
}

// showGrants collects the SHOW GRANTS statements for the connected
// account.
func showGrants(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// grantPermits reports whether the SHOW GRANTS output allows priv on
// schema. Grants arrive as full GRANT statements; a global *.* grant or
// a grant on the schema itself counts, with ALL PRIVILEGES covering
// everything. Wildcard schema patterns are not expanded.
func grantPermits(grants []string, priv, schema string) bool {
	privU := strings.ToUpper(priv)
	schemaU := strings.ToUpper(schema)
	for _, g := range grants {
		upper := strings.ToUpper(g)
		onIdx := strings.Index(upper, " ON ")
		if onIdx < 0 {
			continue
		}
		scope := upper[onIdx+4:]
		onGlobal := strings.HasPrefix(scope, "*.*")
		onSchema := strings.HasPrefix(scope, "`"+schemaU+"`.*") || strings.HasPrefix(scope, schemaU+".*")
		if !onGlobal && !onSchema {
			continue
		}
		head := upper[:onIdx]
		if strings.Contains(head, "ALL PRIVILEGES") || strings.Contains(head, privU) {
			return true
		}
	}
	return false
}

// myConnectionHint maps common MySQL connection failures onto one-line
// fix suggestions. Empty when no hint applies.
func myConnectionHint(err error, c myConn) string {
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "access denied"):
		return fmt.Sprintf("hint: wrong credentials for account %q", c.user)
	case strings.Contains(e, "connection refused"):
		return fmt.Sprintf("hint: no MySQL/MariaDB listening on %s:%d", c.host, c.port)
	case strings.Contains(e, "no such host"):
		return fmt.Sprintf("hint: hostname %q does not resolve", c.host)
	case strings.Contains(e, "unknown database"):
		return fmt.Sprintf("hint: database %q does not exist on the server", c.database)
	case strings.Contains(e, "timeout"), strings.Contains(e, "i/o timeout"):
		return fmt.Sprintf("hint: connection to %s:%d timed out, check firewalls and bind-address", c.host, c.port)
	default:
		return ""
	}
}

// parseMySQLVersion strips build metadata from a VERSION() result:
// "8.0.36" stays as is, "10.11.6-MariaDB-1:10.11.6+maria~deb12"
// becomes "10.11.6".
func parseMySQLVersion(raw string) string {
	if idx := strings.IndexByte(raw, '-'); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

// editionFromComment extracts the edition from @@version_comment.
// MariaDB has no edition split, so only Community/Enterprise matter.
func editionFromComment(comment string) string {
	lower := strings.ToLower(comment)
	switch {
	case strings.Contains(lower, "enterprise"):
		return "Enterprise"
	case strings.Contains(lower, "community"):
		return "Community"
	default:
		return ""
	}
}

// --- Data path ---

// Restore pipes the SQL script at sourcePath into the mysql client.
// Batch mode aborts on the first error, matching psql's ON_ERROR_STOP.
func (m *MySQL) Restore(ctx context.Context, cfg adapter.Config, sourcePath string, onLog adapter.LogFunc, onProgress adapter.ProgressFunc) error {
	if err := m.tools.RequireAll(tools.MySQLRestoreTools()); err != nil {
		return err
	}

	conn := myConnFromConfig(cfg)
	target := cfg.ParamOr(adapter.ParamTargetDatabase, conn.database)
	if target == "" {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			"no target database configured for restore", nil).
			WithDetails("Set a database on the adapter config or a target override on the request.")
	}

	if err := m.ensureDatabase(ctx, conn, target); err != nil {
		return err
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			fmt.Sprintf("cannot open artifact %s: %v", sourcePath, err), err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			fmt.Sprintf("cannot stat artifact %s: %v", sourcePath, err), err)
	}

	m.log.Info("restoring SQL script", "database", target, "source", filepath.Base(sourcePath))

	args := append(conn.commandArgs(), target)
	err = m.runner.run(ctx, toolCmd{
		name:  "mysql",
		args:  args,
		env:   conn.env(),
		stdin: adapter.NewProgressReader(f, st.Size(), onProgress),
	}, onLog)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeRestoreFailed,
			fmt.Sprintf("restore of database %q failed: %v", target, err), err)
	}

	m.log.Info("restore completed", "database", target)
	return nil
}

// ensureDatabase creates the target database when it does not exist.
// Single-database dumps carry no CREATE DATABASE statement of their own.
func (m *MySQL) ensureDatabase(ctx context.Context, conn myConn, name string) error {
	if err := validateIdentifier(name); err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("invalid target database name: %v", err), err)
	}

	db, err := m.openDB("mysql", conn.dsn(""))
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot open connection to %s: %v", conn.host, err), err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteMySQLIdentifier(name)); err != nil {
		return errors.NewRestoreError(errors.ErrCodePrepareFailed,
			fmt.Sprintf("cannot create database %q: %v", name, err), err)
	}
	return nil
}

// mysqldumpArgs assembles the mysqldump invocation. --single-transaction
// keeps InnoDB dumps consistent without locking; --quick streams rows
// instead of buffering whole tables.
func mysqldumpArgs(c myConn, dbname string) []string {
	args := c.commandArgs()
	return append(args,
		"--single-transaction", "--routines", "--triggers", "--events", "--quick",
		dbname,
	)
}

// Dump writes a mysqldump SQL script of the configured database to
// destPath.
func (m *MySQL) Dump(ctx context.Context, cfg adapter.Config, destPath string, onLog adapter.LogFunc, onProgress adapter.ProgressFunc) error {
	if err := m.tools.RequireAll(tools.MySQLDumpTools()); err != nil {
		return err
	}

	conn := myConnFromConfig(cfg)
	dbname := cfg.ParamOr(adapter.ParamSourceDatabase, conn.database)
	if dbname == "" {
		return errors.NewRestoreError(errors.ErrCodeDumpFailed,
			"no database configured for dump", nil)
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.NewRestoreError(errors.ErrCodeDumpFailed,
			fmt.Sprintf("cannot create dump file %s: %v", destPath, err), err)
	}
	defer out.Close()

	m.log.Info("dumping database", "database", dbname, "dest", filepath.Base(destPath))

	err = m.runner.run(ctx, toolCmd{
		name:   "mysqldump",
		args:   mysqldumpArgs(conn, dbname),
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
