// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理执行账本的数据库 Schema，基于 golang-migrate，
支持 SQLite、PostgreSQL 与 MySQL。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<driver>/ 下，
由 iofs source 驱动读取。迁移器与 SQL 账本使用同一连接串
（config.DatabaseConfig.ConnectionString），sqlite 使用纯 Go 的
glebarez/go-sqlite 驱动，无需 CGO。

迁移建立两张表：

  - execution_ledger：账本记录，以 (workflow_identity, sequence_id) 唯一索引。
  - ledger_sequence：全局序号计数行，追加时在事务内自增。

迁移文件与 GORM AutoMigrate 互相兼容，二者可以先后执行。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、DownAll、Steps、Goto、Force、
    Version、Status、Info、Close。
  - CLI：为 flowguard migrate 子命令格式化输出，支持 JSON。
  - NewMigratorFromConfig / NewMigratorFromDatabaseConfig：从应用配置创建迁移器。
*/
package migration
