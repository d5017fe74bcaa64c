package tenants

import "fmt"

// DriverFor maps the provider enum to a database/sql driver name. Callers
// pass the revealed connection string by value; nothing here introspects
// runtime configuration.
func DriverFor(p DBProvider) (string, error) {
	switch p {
	case ProviderPostgres:
		return "pgx", nil
	case ProviderMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported db provider %q", p)
	}
}
