// 版权所有 2025 MarketFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 tlsutil 提供集中式 TLS 安全加固配置，供出站 HTTP 客户端
（LLM 供应商调用）与入站 HTTPS 服务器共用。

# 概述

统一收敛 TLS 版本与密码套件策略：TLS 1.2 起步，仅保留 AEAD
密码套件。出站方向由 SecureHTTPClient / SecureTransport 提供
带连接池调优的 http.Client；入站方向由 DefaultTLSConfig 注入
server.Manager 的 HTTPS 监听。

# 主要能力

  - DefaultTLSConfig：加固的 tls.Config（TLS 1.2+，AEAD-only）。
  - SecureTransport：带 TLS 加固与连接池参数的 http.Transport。
  - SecureHTTPClient：开箱即用的安全 http.Client，可直接替换
    &http.Client{Timeout: timeout}。
*/
package tlsutil
