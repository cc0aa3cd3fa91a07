// Package sqlstore 提供基于 database/sql 的会话、知识库与商品目录存储，
// 支持 MySQL 与 SQLite 两种方言，并在启动时执行内嵌的迁移脚本。
package sqlstore
