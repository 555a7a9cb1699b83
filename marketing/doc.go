// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 marketing 是领域层：营销工具、工作流节点、预置流程与编排器，
全部构建在 flow 引擎的公共 API 之上。

# 概述

五个营销工具（调研、生成、优化、分发、分析）各自封装一项能力，
节点构造器把工具包装成带重试与回退的引擎节点，并维护共享存储
的键约定；预置流程把节点连成内容创作、渠道分发、效果分析、
端到端与 GTM 策略五张图；Orchestrator 按名字注册与运行工作流，
并在运行成功后落库内容与分发结果。

# 核心类型

  - Tool / Toolset：工具接口与默认工具包，协作方（缓存、指标、
    LLM、分析存储）在构造时注入，均可为空。
  - NodeOption：节点级选项（名称、重试、等待、参数覆盖、输出键、
    路由函数）。
  - Orchestrator / RunResult：流程注册表与运行门面，RunResult 带
    运行 ID、结果动作、存储快照与耗时。

# 键约定

节点通过共享存储交换数据：调研写 research_results 与
research_keywords，生成写 generated_content，优化写
optimized_content 与 optimization_score，渠道适配合并
channel_adaptations，分发写 distribution_results，分析写
analytics_results 与 analytics_insights。每个阶段完成后写对应的
*_completed 标记。

# 主要能力

  - 生成工具接入 LLM Provider 时按令牌计量上报指标，Provider 持续
    失败时节点回退到内置模板，流程离线也能跑通。
  - 调研结果按主题缓存到 Redis，命中与未命中计入指标。
  - 渠道分发用并行批量流程扇出，合并策略保证各渠道的适配结果
    全部汇入主存储。
  - GTM 流程在 positioning 节点按 strategy_focus 分支路由，演示
    默认动作之外的标签转移。
  - 分析工具在配置了快照存储时按渠道持久化效果快照。
*/
package marketing
