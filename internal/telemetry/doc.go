// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 Gatekeeper 检索核心提供集中式的 TracerProvider 和 MeterProvider 配置。
// 未启用时使用 noop 实现，不连接任何外部服务。
package telemetry
