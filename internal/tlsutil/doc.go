// Copyright (c) Gatekeeper Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式 TLS 配置：嵌入服务的 HTTP 客户端与
// serve 命令的运维端口共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
