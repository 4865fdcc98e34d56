// Package prediction 保存每一次线上预测的历史记录。
// 预测结果被序列化后投递到队列(内存、Redis list 或 RabbitMQ)，由 Recorder 的工作协程
// 异步写入存储，并在判定为异常时触发告警。记录失败不会影响预测响应。
package prediction
