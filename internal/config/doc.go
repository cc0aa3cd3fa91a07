// Package config 负责加载服务配置：读取 YAML 文件，展开环境变量占位符，
// 填充默认值并校验各组件的驱动组合。
package config
