// Package training 串联离线训练流程：读取并清洗数据集、分层切分、SMOTE 过采样、
// 训练软投票集成、在保留的测试集上评估，最后保存模型并做一次健全性预测。
package training
