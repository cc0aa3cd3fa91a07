// Package api 通过 REST 接口暴露咨询会话、营销团队与健康检查。
package api
