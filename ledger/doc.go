// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 ledger 提供只追加的执行账本，记录每一次脚本执行的结果，并支持多后端存储。

# 概述

每条记录都带有全局唯一且严格递增的 SequenceID。Append 在返回前完成持久化，
记录写入后不可修改；Query 按 SequenceID 倒序返回，并且总是观察到追加历史的
一个前缀。所有存储故障都以 LEDGER_UNAVAILABLE 错误返回，从不吞掉。

# 核心接口

  - Ledger：Append、Query、Workflows、Ping、Close。
  - Query：按工作流、时间范围（StartedAt，左闭右开）、状态与条数过滤。

# 后端实现

  - GormLedger：基于 GORM 的 SQL 账本（sqlite / postgres / mysql）。
    序号由 ledger_sequence 计数行在追加事务内自增，行锁持有到提交，
    因此跨进程的序号分配与提交顺序一致。
  - RedisLedger：单个 Lua 脚本原子地递增序号、写入记录并更新索引。
  - MemoryLedger：进程内实现，用于测试与试运行。

# 持久化格式

时间戳统一为 UTC、固定纳秒宽度的文本（TimestampLayout），
字典序即时间序，范围查询可以直接比较字符串。
*/
package ledger
