package dbms

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"dbvault/internal/adapter"
	"dbvault/internal/errors"
	"dbvault/internal/logger"
)

// --- helpers ---

func newTestMySQL(t *testing.T, db *sql.DB) *MySQL {
	t.Helper()
	m := NewMySQL(logger.NewNullLogger())
	m.openDB = func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "mysql" {
			t.Errorf("driver = %q, want mysql", driverName)
		}
		return db, nil
	}
	m.tools.LookPathFunc = func(file string) (string, error) {
		return "/usr/bin/" + file, nil
	}
	return m
}

func myTestConfig() adapter.Config {
	return adapter.Config{
		ID:      "db-orders",
		Kind:    adapter.KindDatabase,
		Adapter: "mysql",
		Params: map[string]string{
			"host":     "db.example.com",
			"port":     "3306",
			"user":     "app",
			"password": "s3cret",
			"database": "orders",
		},
	}
}

// ---
// Descriptor

func TestMySQLDescriptors(t *testing.T) {
	my := NewMySQL(logger.NewNullLogger()).Descriptor()
	if my.ID != "mysql" {
		t.Errorf("ID = %q, want mysql", my.ID)
	}
	if !my.EditionSensitive {
		t.Error("mysql descriptor should be edition sensitive")
	}

	maria := NewMariaDB(logger.NewNullLogger()).Descriptor()
	if maria.ID != "mariadb" {
		t.Errorf("ID = %q, want mariadb", maria.ID)
	}
	if maria.EditionSensitive {
		t.Error("mariadb has no edition split")
	}
}

// ---
// Connectivity probe

func TestMySQLTestProbe(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectQuery("SELECT VERSION").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("8.0.36"))
	mock.ExpectQuery("version_comment").
		WillReturnRows(sqlmock.NewRows([]string{"comment"}).AddRow("MySQL Community Server - GPL"))

	res := m.Test(context.Background(), myTestConfig())
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Message)
	}
	if res.Version != "8.0.36" {
		t.Errorf("version = %q, want 8.0.36", res.Version)
	}
	if res.Edition != "Community" {
		t.Errorf("edition = %q, want Community", res.Edition)
	}
	if !strings.Contains(res.Message, "MySQL 8.0.36") {
		t.Errorf("message = %q, should name the server", res.Message)
	}
}

func TestMySQLTestProbeFlagsMariaDBServer(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectQuery("SELECT VERSION").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).
			AddRow("10.11.6-MariaDB-1:10.11.6+maria~deb12"))
	mock.ExpectQuery("version_comment").
		WillReturnRows(sqlmock.NewRows([]string{"comment"}).AddRow("MariaDB Server"))

	res := m.Test(context.Background(), myTestConfig())
	if !res.Success {
		t.Fatalf("probe failed: %s", res.Message)
	}
	if res.Version != "10.11.6" {
		t.Errorf("version = %q, want 10.11.6", res.Version)
	}
	if !strings.Contains(res.Message, "MariaDB") {
		t.Errorf("message = %q, should name the actual server family", res.Message)
	}
	if !strings.Contains(res.Message, "configured adapter is mysql") {
		t.Errorf("message = %q, should flag the flavor mismatch", res.Message)
	}
}

func TestMySQLTestProbeFailureCarriesHint(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectQuery("SELECT VERSION").
		WillReturnError(fmt.Errorf("Error 1045: Access denied for user 'app'@'10.0.0.9'"))

	res := m.Test(context.Background(), myTestConfig())
	if res.Success {
		t.Fatal("probe should fail")
	}
	if !strings.Contains(res.Message, "Access denied") {
		t.Errorf("message should carry the server error, got %q", res.Message)
	}
	if !strings.Contains(res.Message, "hint: wrong credentials") {
		t.Errorf("message should carry a hint, got %q", res.Message)
	}
}

// ---
// PrepareRestore

func TestMySQLPrepareRestoreAllowed(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectQuery("SHOW GRANTS").
		WillReturnRows(sqlmock.NewRows([]string{"grants"}).
			AddRow("GRANT ALL PRIVILEGES ON *.* TO `app`@`%` WITH GRANT OPTION"))
	mock.ExpectQuery("SELECT SCHEMA_NAME FROM information_schema.SCHEMATA").
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("orders"))

	if err := m.PrepareRestore(context.Background(), myTestConfig(), []string{"orders"}); err != nil {
		t.Fatalf("PrepareRestore failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLPrepareRestoreCannotCreateMissing(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectQuery("SHOW GRANTS").
		WillReturnRows(sqlmock.NewRows([]string{"grants"}).
			AddRow("GRANT USAGE ON *.* TO `app`@`%`").
			AddRow("GRANT ALL PRIVILEGES ON `otherdb`.* TO `app`@`%`"))
	mock.ExpectQuery("SELECT SCHEMA_NAME FROM information_schema.SCHEMATA").
		WithArgs("newdb").
		WillReturnError(sql.ErrNoRows)

	err := m.PrepareRestore(context.Background(), myTestConfig(), []string{"newdb"})
	if err == nil {
		t.Fatal("expected error when account cannot create the missing database")
	}
	if errors.GetCode(err) != errors.ErrCodePrepareFailed {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.ErrCodePrepareFailed)
	}
	if !strings.Contains(err.Error(), "may not create databases") {
		t.Errorf("error should explain the missing privilege, got %q", err)
	}
}

func TestMySQLPrepareRestoreMissingPrivilegeOnExisting(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectQuery("SHOW GRANTS").
		WillReturnRows(sqlmock.NewRows([]string{"grants"}).
			AddRow("GRANT CREATE, DROP ON `orders`.* TO `app`@`%`"))
	mock.ExpectQuery("SELECT SCHEMA_NAME FROM information_schema.SCHEMATA").
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("orders"))

	err := m.PrepareRestore(context.Background(), myTestConfig(), []string{"orders"})
	if err == nil {
		t.Fatal("expected error when INSERT is missing")
	}
	if !strings.Contains(err.Error(), "INSERT") {
		t.Errorf("error should name the missing privilege, got %q", err)
	}
}

func TestMySQLPrepareRestoreMissingTool(t *testing.T) {
	db, _ := newMockDB(t)
	m := newTestMySQL(t, db)
	m.tools.LookPathFunc = func(file string) (string, error) {
		return "", fmt.Errorf("not found")
	}

	err := m.PrepareRestore(context.Background(), myTestConfig(), []string{"orders"})
	if err == nil {
		t.Fatal("expected error when the mysql client is missing")
	}
	if errors.GetCode(err) != errors.ErrCodeToolMissing {
		t.Errorf("code = %s, want %s", errors.GetCode(err), errors.ErrCodeToolMissing)
	}
}

// ---
// Grant parsing

func TestGrantPermits(t *testing.T) {
	tests := []struct {
		name   string
		grants []string
		priv   string
		schema string
		want   bool
	}{
		{
			"global all privileges",
			[]string{"GRANT ALL PRIVILEGES ON *.* TO `root`@`localhost` WITH GRANT OPTION"},
			"DROP", "orders", true,
		},
		{
			"global grant without the privilege",
			[]string{"GRANT SELECT ON *.* TO `ro`@`%`"},
			"INSERT", "orders", false,
		},
		{
			"schema grant with the privilege",
			[]string{"GRANT CREATE, INSERT ON `orders`.* TO `app`@`%`"},
			"INSERT", "orders", true,
		},
		{
			"grant on a different schema",
			[]string{"GRANT ALL PRIVILEGES ON `otherdb`.* TO `app`@`%`"},
			"CREATE", "orders", false,
		},
		{
			"unquoted schema name",
			[]string{"GRANT INSERT ON orders.* TO `app`@`%`"},
			"INSERT", "orders", true,
		},
		{
			"no grants at all",
			nil,
			"CREATE", "orders", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := grantPermits(tt.grants, tt.priv, tt.schema); got != tt.want {
				t.Errorf("grantPermits = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---
// ensureDatabase

func TestMySQLEnsureDatabaseCreates(t *testing.T) {
	db, mock := newMockDB(t)
	m := newTestMySQL(t, db)

	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `newdb`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	conn := myConnFromConfig(myTestConfig())
	if err := m.ensureDatabase(context.Background(), conn, "newdb"); err != nil {
		t.Fatalf("ensureDatabase failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLEnsureDatabaseRejectsUnsafeName(t *testing.T) {
	m := NewMySQL(logger.NewNullLogger())
	m.openDB = func(driverName, dsn string) (*sql.DB, error) {
		t.Fatal("openDB must not be called for an invalid name")
		return nil, nil
	}

	conn := myConnFromConfig(myTestConfig())
	err := m.ensureDatabase(context.Background(), conn, "orders`; DROP DATABASE prod")
	if err == nil {
		t.Fatal("expected error for unsafe database name")
	}
}

// ---
// Command and DSN building

func TestMyCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		conn myConn
		want []string
	}{
		{
			"unix socket",
			myConn{host: "/run/mysqld/mysqld.sock", port: 3306, user: "root"},
			[]string{"-S", "/run/mysqld/mysqld.sock", "-u", "root"},
		},
		{
			"remote host",
			myConn{host: "db.example.com", port: 3307, user: "app"},
			[]string{"-h", "db.example.com", "-P", "3307", "-u", "app"},
		},
		{
			"localhost uses client defaults",
			myConn{host: "localhost", port: 3306, user: "root"},
			[]string{"-u", "root"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.conn.commandArgs(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("args = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMysqldumpArgs(t *testing.T) {
	conn := myConn{host: "db.example.com", port: 3306, user: "app"}
	got := mysqldumpArgs(conn, "orders")

	want := []string{
		"-h", "db.example.com", "-P", "3306", "-u", "app",
		"--single-transaction", "--routines", "--triggers", "--events", "--quick",
		"orders",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v, want %v", got, want)
	}
}

func TestMyDSN(t *testing.T) {
	conn := myConnFromConfig(myTestConfig())
	got := conn.dsn("orders")

	want := "app:s3cret@tcp(db.example.com:3306)/orders?timeout=10s"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestMyDSNSocket(t *testing.T) {
	conn := myConn{host: "/run/mysqld/mysqld.sock", port: 3306, user: "root"}
	got := conn.dsn("")

	want := "root@unix(/run/mysqld/mysqld.sock)/?timeout=10s"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

// ---
// Version and edition parsing

func TestParseMySQLVersion(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"8.0.36", "8.0.36"},
		{"8.4.0-commercial", "8.4.0"},
		{"10.11.6-MariaDB-1:10.11.6+maria~deb12", "10.11.6"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseMySQLVersion(tt.raw); got != tt.want {
			t.Errorf("parseMySQLVersion(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestEditionFromComment(t *testing.T) {
	tests := []struct {
		comment, want string
	}{
		{"MySQL Community Server - GPL", "Community"},
		{"MySQL Enterprise Server - Commercial", "Enterprise"},
		{"MariaDB Server", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := editionFromComment(tt.comment); got != tt.want {
			t.Errorf("editionFromComment(%q) = %q, want %q", tt.comment, got, tt.want)
		}
	}
}

func TestMyConnectionHint(t *testing.T) {
	conn := myConn{host: "db.example.com", port: 3306, user: "app", database: "orders"}
	tests := []struct {
		errMsg string
		want   string
	}{
		{"Error 1045: Access denied for user 'app'@'%'", "wrong credentials"},
		{"dial tcp 10.0.0.5:3306: connect: connection refused", "listening"},
		{"dial tcp: lookup db.example.com: no such host", "does not resolve"},
		{"Error 1049: Unknown database 'orders'", "does not exist"},
		{"dial tcp 10.0.0.5:3306: i/o timeout", "timed out"},
		{"some other failure", ""},
	}
	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			got := myConnectionHint(fmt.Errorf("%s", tt.errMsg), conn)
			if tt.want == "" {
				if got != "" {
					t.Errorf("hint = %q, want none", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("hint = %q, should mention %q", got, tt.want)
			}
		})
	}
}
