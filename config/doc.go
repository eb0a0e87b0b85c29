// Package config 提供 Gatekeeper 检索核心的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（GATEKEEPER_ 前缀）的顺序叠加，
// 覆盖文档存储、嵌入服务、检索参数、日志、指标与遥测。
package config
