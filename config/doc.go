// Package config 提供 MarketFlow 的配置管理功能。
//
// 包含配置加载、默认值、验证与配置文件变更监听。
// 支持从 YAML 文件和环境变量加载配置，
// 优先级为 默认值 → 文件 → 环境变量。
package config
