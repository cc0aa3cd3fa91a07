// Package analysis 实现影子意图分析：助手回复后投递分析任务，由后台工作协程
// 调用大模型提取结构化意图并回写会话，失败只记录日志，不影响已返回的回复。
package analysis
