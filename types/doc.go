// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供执行引擎各组件共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 execution、ledger、
analysis 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Script           ：已审批脚本（Language / Source / DeclaredTimeout / EnvOverrides / WorkingDir）
  - ValidationVerdict：安全策略校验结果（Allowed + 有序 Violations）
  - ExecutionOutcome ：单次执行的标准化结果（Status / ExitCode / 输出 / 时间）
  - LedgerRecord     ：写入执行账本的记录（Outcome + WorkflowIdentity + SequenceID）
  - TimeRange        ：账本查询的时间区间
  - FailurePattern   ：同类失败的聚合（类型、次数、样例、修复提示）
  - StatsSummary     ：成功率、时长分位数与趋势
  - Error / ErrorCode：结构化错误体系（VALIDATION_REJECTED、LEDGER_UNAVAILABLE 等）

# 主要能力

  - 状态枚举：Status.IsFailure / Status.Ran 区分参与分类与实际运行的记录
  - 错误工具链：GetErrorCode / IsCode / IsRetryable / OutcomeError
  - 时间规范：NewOutcome 统一 UTC 时间并保证 Duration 非负
*/
package types
