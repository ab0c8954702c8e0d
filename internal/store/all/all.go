// Package all registers every store backend with the store factory.
//
// The server config specifies which backend to use, but support for all of
// them is compiled in; blank-import this package from main.
package all

import (
	_ "datarest/internal/store/mssql"
	_ "datarest/internal/store/postgres"
	_ "datarest/internal/store/sqlite"
)
