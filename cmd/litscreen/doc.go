/*
Package main 提供 litscreen 命令行程序入口。

# 概述

cmd/litscreen 是文献筛选流水线的可执行入口，从 JSONL 输入读取记录，
批量送入 LLM 判定 include/exclude/unsure，并以 JSONL 写出结果。
程序支持 YAML 配置文件加载、结构化日志（zap）和 Prometheus 指标采集。

# 核心类型

  - Runner  — 装配配置、执行一次批量筛选
  - Record  — 输入 JSONL 的一行（id/title/abstract 或 text）
  - Output  — 输出 JSONL 的一行（id/decision/notes）

# 主要能力

  - 子命令：run（批量筛选）、version
  - 输入：文件或 stdin，逐行 JSON，裸文本行也接受
  - 输出：与输入等长且顺序一致，stdout 或文件
  - 中断处理：SIGINT/SIGTERM 后停止派发，未派发记录以 unsure 结清
  - Metrics 服务器：可选端口暴露 /metrics（Prometheus）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
