package migrations

import "embed"

// Files 按方言暴露 SQL 迁移文件，目录名即方言名。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS
