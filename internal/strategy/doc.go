// Package strategy 描述请求路由可选的缓存策略及其分类规则。
//
// 每个策略以 Kind 为键注册一份 Metadata（说明、写入分区、查找范围、离线兜底），
// 供诊断接口与分发器查询；RuleSet 按固定优先级把请求映射到唯一的 Kind：
//   1. 路径命中 network-first 前缀；
//   2. 路径以 cache-first 扩展名结尾；
//   3. Accept 头包含 text/html；
//   4. 其余请求走 network-with-cache-fallback。
//
// 非 http/https 协议或非 GET 请求不会进入缓存策略，统一视为 passthrough。
package strategy
