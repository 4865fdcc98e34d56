// Package inference 持有线上服务使用的已训练模型，负责阈值判定、结果缓存以及模型文件的热加载。
package inference
