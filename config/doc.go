// Package config 提供 litscreen 的配置管理功能。
//
// 包含配置加载、默认值与验证。
// 支持从 YAML 文件和环境变量加载配置，
// 并提供向各领域子包配置结构的转换。
package config
