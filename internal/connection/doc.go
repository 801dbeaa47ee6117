// Package connection 实现连接请求状态机的客户端协议。
//
// 每个挂载的用户会话（Session）拥有独立的一套组件：
//
//   - Store: 当前用户全部连接记录的内存缓存，按 id 存储并按无序用户对建立索引，
//     accepted / incoming pending / outgoing pending 三个分区由索引派生
//   - Resolver: 从 Store 解析与另一用户的关系状态
//   - Service: sendRequest / respond / cancel，成功后乐观更新 Store，失败时 Store 不变
//   - Listener: 订阅变更推送，将事件应用到 Store 并产生提示；断开后指数退避重订阅
//   - Reconciler: 全量 reload，修复推送丢失或乱序造成的偏差
//
// Store 按 (updatedAt, status rank) 做 last-writer-wins，被删除的 id 记录墓碑，
// 因此乐观更新、推送事件与 reload 以任意顺序到达都会收敛到同一状态。
package connection
