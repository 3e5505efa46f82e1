// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package config 提供 FlowGuard 的配置加载与校验。

# 概述

配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，最后统一校验。
校验会一次性收集所有问题，以 CONFIG_INVALID 错误返回。

# 环境变量

环境变量名由前缀与各级 env 标签拼接而成，例如：

	FLOWGUARD_LEDGER_TYPE=redis
	FLOWGUARD_DATABASE_POOL_MAX_OPEN_CONNS=10
	FLOWGUARD_POLICY_ALLOWED_LANGUAGES=SHELL

切片字段以逗号分隔，时长字段使用 time.ParseDuration 格式。

# 数据库

DatabaseConfig.ConnectionString 为 sqlite、postgres、mysql 生成连接串，
账本连接池与迁移器共用同一连接串。
*/
package config
