package dbms

import (
	"dbvault/internal/adapter"
	"dbvault/internal/logger"
)

// Adapters returns every database engine implementation keyed by
// adapter id, ready to hand to adapter.NewRegistry.
func Adapters(log logger.Logger) map[string]adapter.Database {
	return map[string]adapter.Database{
		"postgres": NewPostgres(log),
		"mysql":    NewMySQL(log),
		"mariadb":  NewMariaDB(log),
	}
}

// Interface conformance
var (
	_ adapter.Database        = (*Postgres)(nil)
	_ adapter.RestorePreparer = (*Postgres)(nil)
	_ adapter.Database        = (*MySQL)(nil)
	_ adapter.RestorePreparer = (*MySQL)(nil)
)
