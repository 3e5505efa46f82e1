// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的执行指标采集。

# 概述

Collector 实现 execution.MetricsRecorder，可直接通过
execution.WithMetrics 交给 Executor。所有指标注册在收集器自己的
Registry 上（附带 Go 运行时与进程指标），由 Handler 暴露给
flowguard serve-metrics。

# 指标

  - executions_total / execution_duration_seconds：按 language、status 分组。
  - validation_rejections_total：按 rule_id 分组的策略命中次数。
  - executions_in_flight：运行中的脚本数。
  - ledger_appends_total / ledger_append_duration_seconds：账本追加结果
    （ok、unavailable、invalid、error）与延迟。
  - workflow_success_ratio / workflow_records /
    workflow_failure_pattern_occurrences：serve-metrics 定期从账本报告刷新。
*/
package metrics
