// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 execution 提供工作流脚本的安全校验与隔离执行能力。

# 概述

本包解决"工作流中的脚本能否执行、如何受控执行"的问题。
脚本先经过确定性的策略校验，只有被放行的脚本才会进入
本地子进程执行；执行结果以统一的 ExecutionOutcome 形式返回，
并由 Executor 追加到执行账本中。

# 核心接口

  - Policy：编译后的不可变安全策略，包含内置与自定义拒绝规则、
    输出上限、执行时长上限、环境变量白名单与允许的语言。
  - Validator：纯函数式校验器，对规范化后的脚本源码逐条匹配
    拒绝规则，同一脚本总是得到相同的判定。
  - Runner：执行抽象，ProcessRunner 为本地进程实现。
  - Appender：账本追加抽象，由 ledger 包的各后端实现。
  - Executor：唯一入口，串联校验、准入控制、执行与记账。

# 主要能力

  - 策略校验：基于 RE2 的线性时间匹配，报告全部命中的规则 ID。
  - 进程隔离：每次执行独占一个进程组，超时或取消时先 SIGTERM，
    宽限期后 SIGKILL，进程退出后清理整个进程组。
  - 输出限流：标准输出与标准错误分别限额捕获，超出部分丢弃并标记截断。
  - 环境隔离：子进程只继承白名单变量与调用方显式覆盖的变量。
  - 准入控制：信号量限制并发，令牌桶限制启动速率。
  - 执行统计：跟踪成功、失败、超时、取消、拒绝及记账失败次数。
*/
package execution
