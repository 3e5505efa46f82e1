// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，支持健康检查、
统计信息采集与事务重试。

# 概述

本包通过 PoolManager 封装 GORM 与 database/sql 的连接池配置，
统一管理连接生命周期、空闲回收与最大连接数限制。Open 按驱动名称
创建方言：sqlite 使用纯 Go 实现（glebarez/sqlite），postgres 与
mysql 使用官方 GORM 驱动。执行账本的 SQL 后端与迁移工具都从这里
获取连接。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、SQLDB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：友好格式的连接池统计信息。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 多驱动：Dialector / NormalizeDriver 统一处理驱动别名。
  - sqlite 持久化：SQLiteDSN 默认开启 WAL、synchronous=FULL 与 busy_timeout。
  - 健康检查：后台定时 PingContext 探活，Close 后自动退出。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 支持指数退避重试（死锁、序列化失败、sqlite 忙）。
*/
package database
