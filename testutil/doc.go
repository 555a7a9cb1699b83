// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 MarketFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试与基准测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。所有测试应优先使用此包
中的工具函数和 Mock 实现。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertNoError / AssertError，带可选消息格式化
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足
  - 等待工具: WaitFor / WaitForChannel，用于后台协程与事件通道测试
  - 数据工具: MustJSON / MustParseJSON，简化测试数据构造
  - 输入构造: StoreBuilder 链式拼装流程输入，
    Inputs 用于编排器、Build 用于直接驱动 flow.Runner
  - 基准辅助: BenchmarkHelper 封装 testing.B 常用操作

# 子包

  - testutil/mocks: Mock 实现，包括 MockProvider（LLM Provider，
    支持 Builder 模式、响应队列与错误注入）和 RecordingObserver
    （flow.Observer，线程安全记录全部生命周期回调）
  - testutil/fixtures: 测试数据工厂，提供各预置流程的典型输入
    以及分析快照样例

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	inputs := testutil.NewStoreBuilder().WithTopic("spring launch").Inputs()
	res, err := orch.Run(ctx, marketing.FlowContentCreation, inputs)
	testutil.AssertNoError(t, err)
*/
package testutil
