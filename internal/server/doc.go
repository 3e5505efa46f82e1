// 版权所有 2024 FlowGuard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 flowguard serve-metrics 的 HTTP 服务器生命周期。

# 概述

Manager 封装 net/http.Server：Start 非阻塞监听，Run 阻塞到
context 结束后在 ShutdownTimeout 内优雅关闭。信号处理由命令入口
通过 signal.NotifyContext 完成，本包只感知 context。

配置了证书与私钥时以 HTTPS 提供服务，TLS 参数来自 tlsutil。
*/
package server
