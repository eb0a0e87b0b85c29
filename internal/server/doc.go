// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

/*
Package server 提供 serve 命令的运维 HTTP 服务器。

# 核心类型

  - Manager：封装 net/http.Server，非阻塞启动，Run 阻塞到上下文结束后优雅关闭。
    配置证书时以 tlsutil.ServerTLSConfig 提供 HTTPS。
  - NewOpsHandler：暴露 /metrics（Prometheus）、/healthz（存活）与
    /readyz（并发执行就绪检查，任一失败返回 503）。
*/
package server
