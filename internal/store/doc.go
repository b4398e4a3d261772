// Package store provides the data-store capability used by the query
// executor: read-only query execution over database/sql plus schema and
// sample-data introspection.
//
// Three drivers are supported: "sqlserver" (Azure SQL / SQL Server via
// go-mssqldb), "mysql" and "sqlite" (modernc.org, pure Go). Every Run opens
// its own connection and closes it before returning, so no connection state
// carries over between retry attempts.
package store
