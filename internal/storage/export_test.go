package storage

var PostgresSchema = postgresSchema
