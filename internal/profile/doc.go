// Package profile 实现用户档案资源：字段校验、存储抽象、内存存储与增删改查服务。
// 校验失败时返回按字段分组的错误信息，格式与常见 REST 框架保持一致。
package profile
