// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 analysis 从执行账本派生失败模式与可靠性统计。

# 概述

所有结果都是账本切片的纯函数，从不持久化：同一切片总能得到
逐字节相同的输出，与输入顺序无关。

# 失败分类

Classify 只处理 FAILURE、TIMEOUT、INTERNAL_ERROR 记录。每条记录按
版本化的分类表（TaxonomyVersion）依优先级匹配签名，首个命中的类别胜出，
未命中的归入 UNCLASSIFIED，因此各模式计数之和等于失败记录数。
模式按出现次数降序、最近出现时间降序、分类优先级排序。

# 统计

Summarize 计算成功率、各状态计数、实际运行过的记录的时长分布
（平均、最近秩 p50/p95、最小、最大），以及新旧两半的成功率趋势。
结束早于开始的异常记录按零时长计算，并计入 ClampedRecords。

# 报告

Reporter 从账本读取历史并组合出 Report；ReportAll 通过 errgroup
并发处理全部工作流。
*/
package analysis
